package gateway

import (
	"context"
	"fmt"

	"github.com/mettice/nodeai/internal/application/credentials"
	"github.com/mettice/nodeai/internal/application/orchestrator"
	"github.com/mettice/nodeai/internal/application/quota"
	"github.com/mettice/nodeai/pkg/domain"
	"go.uber.org/zap"
)

// Runner starts runs.
type Runner interface {
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (*domain.Run, error)
}

// Versions resolves the version that serves a deployed workflow.
type Versions interface {
	ActiveVersion(ctx context.Context, workflowID string) (*domain.DeploymentVersion, error)
}

// Invocation is the result of an authenticated trigger. Decision is set
// whenever a quota check ran, including on denial.
type Invocation struct {
	Run      *domain.Run
	Version  *domain.DeploymentVersion
	Decision *domain.QuotaDecision
}

// Gateway is the single path from an API key or webhook to a run:
// authenticate, resolve the graph, admit against quota, submit.
type Gateway struct {
	validator *orchestrator.Validator
	creds     *credentials.Service
	versions  Versions
	quota     *quota.Enforcer
	runner    Runner
	logger    *zap.Logger
}

// NewGateway creates a trigger gateway
func NewGateway(creds *credentials.Service, versions Versions, enforcer *quota.Enforcer, runner Runner, logger *zap.Logger) *Gateway {
	return &Gateway{
		validator: orchestrator.NewValidator(),
		creds:     creds,
		versions:  versions,
		quota:     enforcer,
		runner:    runner,
		logger:    logger,
	}
}

// InvokeWithKey runs the active version of a deployed workflow on behalf of an API key.
func (g *Gateway) InvokeWithKey(ctx context.Context, apiKey, workflowID string, inputs map[string]any) (*Invocation, error) {
	c, err := g.creds.Authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if c.WorkflowID != "" && c.WorkflowID != workflowID {
		g.logger.Info("api key used for another workflow",
			zap.String("key_id", c.KeyID),
			zap.String("workflow_id", workflowID))
		return nil, domain.ErrInvalidCredential
	}
	return g.invokeDeployed(ctx, c.Subject(), workflowID, inputs, domain.TriggerAPIKey)
}

// InvokeWebhook runs the active version of the webhook's workflow.
func (g *Gateway) InvokeWebhook(ctx context.Context, webhookID, secret string, inputs map[string]any) (*Invocation, error) {
	w, err := g.creds.AuthenticateWebhook(ctx, webhookID, secret)
	if err != nil {
		return nil, err
	}
	return g.invokeDeployed(ctx, w.Subject(), w.WorkflowID, inputs, domain.TriggerWebhook)
}

// SubmitGraph runs an ad-hoc graph. With an API key the run is admitted and
// metered against the key; without one it runs unmetered.
func (g *Gateway) SubmitGraph(ctx context.Context, apiKey string, graph *domain.WorkflowGraph, inputs map[string]any) (*Invocation, error) {
	if apiKey == "" {
		run, err := g.runner.Submit(ctx, orchestrator.SubmitRequest{Graph: graph, Inputs: inputs, Trigger: domain.TriggerManual})
		if err != nil {
			return nil, err
		}
		return &Invocation{Run: run}, nil
	}

	c, err := g.creds.Authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	inv := &Invocation{}
	return g.admitAndSubmit(ctx, inv, orchestrator.SubmitRequest{
		Graph:   graph,
		Inputs:  inputs,
		Subject: c.Subject(),
		Trigger: domain.TriggerAPIKey,
	})
}

func (g *Gateway) invokeDeployed(ctx context.Context, subject *domain.QuotaSubject, workflowID string, inputs map[string]any, trigger domain.TriggerKind) (*Invocation, error) {
	v, err := g.versions.ActiveVersion(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	inv := &Invocation{Version: v}
	return g.admitAndSubmit(ctx, inv, orchestrator.SubmitRequest{
		Graph:     v.Graph,
		Inputs:    inputs,
		VersionID: v.ID,
		Subject:   subject,
		Trigger:   trigger,
	})
}

// admitAndSubmit validates the graph, counts the request against the
// subject's rate window and budget, then submits. An invalid graph is rejected
// before it costs the subject a request. Per-node cost is reserved later by
// billed nodes.
func (g *Gateway) admitAndSubmit(ctx context.Context, inv *Invocation, req orchestrator.SubmitRequest) (*Invocation, error) {
	if err := g.validator.Validate(req.Graph); err != nil {
		return inv, err
	}

	decision, res, err := g.quota.Admit(ctx, req.Subject, 0)
	inv.Decision = decision
	if err != nil {
		return inv, err
	}
	if err := g.quota.Settle(ctx, res, 0); err != nil {
		g.logger.Warn("failed to release admission reservation",
			zap.String("subject_id", req.Subject.ID),
			zap.Error(err))
	}

	run, err := g.runner.Submit(ctx, req)
	if err != nil {
		return inv, err
	}
	inv.Run = run

	g.logger.Info("run triggered",
		zap.String("run_id", run.ID),
		zap.String("workflow_id", run.WorkflowID),
		zap.String("subject_id", req.Subject.ID),
		zap.String("trigger", string(req.Trigger)))
	return inv, nil
}

// KeyUsage returns the quota counters of an API key.
func (g *Gateway) KeyUsage(ctx context.Context, keyID string) (*domain.Usage, error) {
	c, err := g.creds.GetKey(ctx, keyID)
	if err != nil {
		return nil, err
	}
	usage, err := g.quota.Usage(ctx, c.Subject())
	if err != nil {
		return nil, fmt.Errorf("failed to load key usage: %w", err)
	}
	return usage, nil
}

// WebhookUsage returns the quota counters of a webhook.
func (g *Gateway) WebhookUsage(ctx context.Context, webhookID string) (*domain.Usage, error) {
	w, err := g.creds.GetWebhook(ctx, webhookID)
	if err != nil {
		return nil, err
	}
	usage, err := g.quota.Usage(ctx, w.Subject())
	if err != nil {
		return nil, fmt.Errorf("failed to load webhook usage: %w", err)
	}
	return usage, nil
}
