package family

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRotations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bastion",
		Subsystem: "family",
		Name:      "rotations_total",
		Help:      "Successful refresh-credential rotations.",
	})

	metricValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bastion",
		Subsystem: "family",
		Name:      "validation_failures_total",
		Help:      "ValidateAndRotate negative outcomes by reason code.",
	}, []string{"reason"})

	metricReuseDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bastion",
		Subsystem: "family",
		Name:      "reuse_detected_total",
		Help:      "Credential reuse incidents (theft signal).",
	})

	metricRevoked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bastion",
		Subsystem: "family",
		Name:      "revoked_credentials_total",
		Help:      "Credentials transitioned to revoked, by scope.",
	}, []string{"scope"})

	metricRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bastion",
		Subsystem: "family",
		Name:      "rotation_rate_limited_total",
		Help:      "Rotation attempts rejected by the rate guard.",
	})

	metricSweepRevoked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bastion",
		Subsystem: "family",
		Name:      "swept_expired_total",
		Help:      "Expired credentials revoked by the sweep.",
	})
)
