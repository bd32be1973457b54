package otp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	otpIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otp_issue_total",
			Help: "OTP issue attempts by result",
		},
		[]string{"result"},
	)

	otpValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otp_validations_total",
			Help: "OTP validations by result",
		},
		[]string{"result"},
	)
)
