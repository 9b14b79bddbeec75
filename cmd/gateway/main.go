// Command gateway wires the governed execution pipeline together and
// replays a scenario trace against it, printing a per-step report.
//
// Usage:
//
//	gateway [trace.json]
//
// With no argument it runs a built-in fintech demo trace. Configuration
// comes from the environment (see pkg/config).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nuvalla/gateway/pkg/approvals"
	"github.com/nuvalla/gateway/pkg/audit"
	"github.com/nuvalla/gateway/pkg/config"
	"github.com/nuvalla/gateway/pkg/contracts"
	"github.com/nuvalla/gateway/pkg/ledger"
	"github.com/nuvalla/gateway/pkg/observability"
	"github.com/nuvalla/gateway/pkg/pdp"
	"github.com/nuvalla/gateway/pkg/pipeline"
	"github.com/nuvalla/gateway/pkg/replay"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg := config.Load()
	log := newLogger(cfg.LogLevel)

	store, err := cfg.BuildLedgerStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore(store, log)

	rules, err := loadRules(cfg)
	if err != nil {
		return err
	}
	policy, err := pdp.NewCELPolicy(rules)
	if err != nil {
		return fmt.Errorf("compile policy: %w", err)
	}

	regOpts := []approvals.Option{approvals.WithLogger(log)}
	if cfg.LedgerBackend == "sqlite" {
		alog, err := cfg.BuildApprovalLog()
		if err != nil {
			return err
		}
		regOpts = append(regOpts, approvals.WithLog(alog))
	}
	registry := approvals.NewRegistry(regOpts...)
	trail := audit.NewTrail()

	opts := []pipeline.Option{
		pipeline.WithAuditTrail(trail),
		pipeline.WithLogger(log),
	}
	if cfg.TelemetryEnabled {
		ocfg := observability.DefaultConfig()
		ocfg.OTLPEndpoint = cfg.OTLPEndpoint
		provider, err := observability.NewProvider(ctx, ocfg)
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			if err := provider.Shutdown(context.Background()); err != nil {
				log.Warn("telemetry shutdown", "error", err)
			}
		}()
		metrics, err := observability.NewMetrics()
		if err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
		opts = append(opts, pipeline.WithMetrics(metrics), pipeline.WithTracer(provider.Tracer()))
	}

	pipe := pipeline.New(policy, ledger.New(store, ledger.WithLogger(log)), registry, opts...)
	engine := replay.NewEngine(pipe, registry, log)

	trace, err := loadTrace(os.Args[1:])
	if err != nil {
		return err
	}

	report, err := engine.Run(ctx, trace)
	if err != nil {
		return fmt.Errorf("replay %q: %w", trace.Name, err)
	}

	if ok, reason := trail.Verify(); !ok {
		return fmt.Errorf("audit trail verification failed: %s", reason)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func closeStore(store ledger.Store, log *slog.Logger) {
	if c, ok := store.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			log.Warn("close ledger store", "error", err)
		}
	}
}

func loadRules(cfg *config.Config) ([]pdp.Rule, error) {
	if cfg.PolicyRulesPath != "" {
		rules, err := pdp.LoadRules(cfg.PolicyRulesPath)
		if err != nil {
			return nil, fmt.Errorf("load rules: %w", err)
		}
		return rules, nil
	}
	return demoRules(), nil
}

func loadTrace(args []string) (*contracts.ScenarioTrace, error) {
	if len(args) == 0 {
		return demoTrace(), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	var trace contracts.ScenarioTrace
	if err := json.Unmarshal(data, &trace); err != nil {
		return nil, fmt.Errorf("parse trace %s: %w", args[0], err)
	}
	return &trace, nil
}

// demoRules is the fintech rule set used when POLICY_RULES_PATH is unset.
func demoRules() []pdp.Rule {
	return []pdp.Rule{
		{
			Name:              "payment_threshold",
			When:              `call.operation == "payment.execute" && double(call.params.amount_usd) >= 10000.0`,
			Effect:            pdp.EffectRequireApproval,
			Message:           "payments at or above $10k require finance approval",
			RequiredApprovals: 1,
		},
		{
			Name:   "payment_small",
			When:   `call.operation == "payment.execute"`,
			Effect: pdp.EffectCommit,
		},
		{
			Name:    "vendor_unverified",
			When:    `call.operation == "vendor.create" && !(has(call.params.kyc_verified) && call.params.kyc_verified == true)`,
			Effect:  pdp.EffectBlock,
			Message: "vendor creation requires completed KYC",
		},
		{
			Name:   "default_commit",
			When:   `true`,
			Effect: pdp.EffectCommit,
		},
	}
}

// demoTrace mirrors the canonical quarter-close scenario: a large payment
// pends until the CFO approval lands after step 2, a duplicate retry
// replays idempotently, and an unverified vendor is blocked.
func demoTrace() *contracts.ScenarioTrace {
	now := time.Now().UTC()
	call := func(id, op string, params map[string]any) contracts.ToolCall {
		return contracts.ToolCall{
			ActionID:     id,
			Actor:        "agent:quarter-close",
			TargetSystem: "erp",
			Operation:    op,
			Params:       params,
			TxnID:        "txn-demo-001",
			CreatedAt:    now,
		}
	}
	return &contracts.ScenarioTrace{
		Name:  "quarter-close-demo",
		Story: "large payment pends for CFO approval, retries replay, unverified vendor blocked",
		ToolCalls: []contracts.ToolCall{
			call("pay-001", "payment.execute", map[string]any{"amount_usd": 18000, "payee": "ACME Corp"}),
			call("pay-002", "payment.execute", map[string]any{"amount_usd": 420, "payee": "Coffee Supplies"}),
			call("pay-001", "payment.execute", map[string]any{"amount_usd": 18000, "payee": "ACME Corp"}),
			call("ven-001", "vendor.create", map[string]any{"name": "Shell Vendor LLC"}),
		},
		Approvals: []contracts.ScheduledApproval{
			{
				Approval: contracts.Approval{
					ActionID:   "pay-001",
					ApprovedBy: "cfo@example.com",
					Role:       "finance",
					Method:     "dashboard",
					ApprovedAt: now,
				},
				DeliverAfterStep: 2,
			},
		},
	}
}
