package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
)

// SuspiciousActivityPolicy tunes IP-change detection
type SuspiciousActivityPolicy struct {
	Window      time.Duration
	IPThreshold int
}

var DefaultSuspiciousActivityPolicy = SuspiciousActivityPolicy{
	Window:      time.Hour,
	IPThreshold: 3,
}

// SuspiciousActivityDetector correlates successful logins across IPs. It
// only raises alerts and never blocks a login.
type SuspiciousActivityDetector struct {
	policy SuspiciousActivityPolicy
	ledger *LoginLedger
	alerts *AlertService
	logger *slog.Logger
	now    func() time.Time
}

func NewSuspiciousActivityDetector(policy SuspiciousActivityPolicy, ledger *LoginLedger, alerts *AlertService, logger *slog.Logger) *SuspiciousActivityDetector {
	return &SuspiciousActivityDetector{
		policy: policy,
		ledger: ledger,
		alerts: alerts,
		logger: logger,
		now:    time.Now,
	}
}

// Evaluate raises one IP_CHANGE alert when userID has logged in from at
// least the threshold of distinct IPs within the window, current included.
// Errors are logged, never returned.
func (d *SuspiciousActivityDetector) Evaluate(ctx context.Context, userID, currentIP string) {
	since := d.now().Add(-d.policy.Window)

	ips, err := d.ledger.DistinctSuccessfulIPs(ctx, userID, since)
	if err != nil {
		d.logger.Error("suspicious activity check failed", slog.String("user_id", userID), slog.Any("error", err))
		return
	}

	distinct := make(map[string]struct{}, len(ips)+1)
	for _, ip := range ips {
		distinct[ip] = struct{}{}
	}
	if currentIP != "" {
		distinct[currentIP] = struct{}{}
	}
	if len(distinct) < d.policy.IPThreshold {
		return
	}

	seen := make([]string, 0, len(distinct))
	for ip := range distinct {
		seen = append(seen, ip)
	}
	sort.Strings(seen)

	uid := userID
	_, _, err = d.alerts.Raise(ctx, &models.SecurityAlert{
		Type:     models.AlertTypeIPChange,
		Severity: models.SeverityMedium,
		Message:  fmt.Sprintf("Successful logins from %d different IP addresses within %s", len(seen), d.policy.Window),
		UserID:   &uid,
		Meta: models.AlertMeta{
			"ip_addresses": seen,
			"current_ip":   currentIP,
		},
	}, d.policy.Window)
	if err != nil {
		d.logger.Error("failed to raise ip change alert", slog.String("user_id", userID), slog.Any("error", err))
	}
}
