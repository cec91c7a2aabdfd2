package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/corates/internal/access"
	accessdomain "github.com/smallbiznis/corates/internal/access/domain"
	"github.com/smallbiznis/corates/internal/authorization"
	"github.com/smallbiznis/corates/internal/checkout"
	checkoutdomain "github.com/smallbiznis/corates/internal/checkout/domain"
	"github.com/smallbiznis/corates/internal/config"
	"github.com/smallbiznis/corates/internal/grant"
	grantdomain "github.com/smallbiznis/corates/internal/grant/domain"
	"github.com/smallbiznis/corates/internal/observability"
	obsmiddleware "github.com/smallbiznis/corates/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/corates/internal/observability/metrics"
	obstracing "github.com/smallbiznis/corates/internal/observability/tracing"
	"github.com/smallbiznis/corates/internal/organization"
	organizationdomain "github.com/smallbiznis/corates/internal/organization/domain"
	"github.com/smallbiznis/corates/internal/project"
	projectdomain "github.com/smallbiznis/corates/internal/project/domain"
	"github.com/smallbiznis/corates/internal/quota"
	quotadomain "github.com/smallbiznis/corates/internal/quota/domain"
	"github.com/smallbiznis/corates/internal/ratelimit"
	"github.com/smallbiznis/corates/internal/subscription"
	"github.com/smallbiznis/corates/internal/webhook"
	webhookdomain "github.com/smallbiznis/corates/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	ratelimit.Module,
	subscription.Module,
	grant.Module,
	access.Module,
	quota.Module,
	organization.Module,
	project.Module,
	webhook.Module,
	checkout.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	authzSvc        authorization.Service
	resolver        accessdomain.Resolver
	quota           quotadomain.Enforcer
	grantSvc        grantdomain.Service
	organizationSvc organizationdomain.Service
	projectSvc      projectdomain.Service
	checkoutSvc     checkoutdomain.Service
	webhookSvc      webhookdomain.Service
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	AuthzSvc        authorization.Service
	Resolver        accessdomain.Resolver
	Quota           quotadomain.Enforcer
	GrantSvc        grantdomain.Service
	OrganizationSvc organizationdomain.Service
	ProjectSvc      projectdomain.Service
	CheckoutSvc     checkoutdomain.Service
	WebhookSvc      webhookdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		authzSvc:        p.AuthzSvc,
		resolver:        p.Resolver,
		quota:           p.Quota,
		grantSvc:        p.GrantSvc,
		organizationSvc: p.OrganizationSvc,
		projectSvc:      p.ProjectSvc,
		checkoutSvc:     p.CheckoutSvc,
		webhookSvc:      p.WebhookSvc,
	}

	svc.registerWebhookRoutes()
	svc.registerBillingRoutes()
	svc.registerWorkspaceRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	// Signed by the payment provider; no caller context.
	s.engine.POST("/billing/purchases/webhook", s.HandleStripeWebhook)
}

func (s *Server) registerBillingRoutes() {
	billing := s.engine.Group("/billing")
	billing.GET("/plans", s.ListPlans)

	billing.Use(s.RequestContext())
	{
		billing.POST("/checkout", s.authorizeOrgAction(authorization.ObjectBilling, authorization.ActionBillingCheckout), s.CreateCheckout)
		billing.POST("/checkout/single-project", s.authorizeOrgAction(authorization.ObjectBilling, authorization.ActionBillingCheckout), s.CreateSingleProjectCheckout)
		billing.POST("/trial", s.authorizeOrgAction(authorization.ObjectBilling, authorization.ActionBillingCheckout), s.StartTrial)

		billing.GET("/subscription", s.authorizeOrgAction(authorization.ObjectBilling, authorization.ActionBillingView), s.GetSubscription)
		billing.GET("/usage", s.authorizeOrgAction(authorization.ObjectBilling, authorization.ActionBillingView), s.GetUsage)
		billing.POST("/validate-plan-change", s.authorizeOrgAction(authorization.ObjectBilling, authorization.ActionBillingView), s.ValidatePlanChange)

		billing.GET("/webhook-ledger", s.authorizeOrgAction(authorization.ObjectWebhookLedger, authorization.ActionWebhookLedgerView), s.ListWebhookLedger)
	}
}

func (s *Server) registerWorkspaceRoutes() {
	// Org creation has no org context yet; only the caller is required.
	s.engine.POST("/orgs", s.UserContext(), s.CreateOrganization)

	orgs := s.engine.Group("/orgs", s.RequestContext())
	{
		orgs.GET("/members", s.authorizeOrgAction(authorization.ObjectBilling, authorization.ActionBillingView), s.ListMembers)
		orgs.POST("/members", s.authorizeOrgAction(authorization.ObjectMember, authorization.ActionMemberInvite), s.AddMember)
	}

	projects := s.engine.Group("/projects", s.RequestContext())
	{
		projects.GET("", s.authorizeOrgAction(authorization.ObjectBilling, authorization.ActionBillingView), s.ListProjects)
		projects.POST("", s.authorizeOrgAction(authorization.ObjectProject, authorization.ActionProjectCreate), s.CreateProject)
	}
}
