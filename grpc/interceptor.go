package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	ac "github.com/panyam/authcore"
)

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// Guard decides every non-public call. Required.
	Guard *ac.AccessGuard

	// RequireAuth when true rejects calls the guard does not admit.
	// When false, rejected calls proceed anonymously.
	RequireAuth bool

	// PublicMethods is a set of full method names ("/package.Service/Method")
	// that skip the guard entirely.
	PublicMethods map[string]bool

	// Operations maps a full method name to a policy operation. Methods not
	// listed use the full method name as the operation.
	Operations map[string]string
}

// NewInterceptorConfig returns a config that requires auth for all methods
// except publicMethods.
func NewInterceptorConfig(guard *ac.AccessGuard, publicMethods ...string) *InterceptorConfig {
	config := &InterceptorConfig{
		Config:        DefaultConfig(),
		Guard:         guard,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
		Operations:    make(map[string]string),
	}
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

func (c *InterceptorConfig) ensureDefaults() {
	if c.Config == nil {
		c.Config = DefaultConfig()
	}
	c.Config.EnsureDefaults()
}

func (c *InterceptorConfig) operation(fullMethod string) string {
	if op, ok := c.Operations[fullMethod]; ok {
		return op
	}
	return fullMethod
}

// authorize returns the context handlers should run with.
func (c *InterceptorConfig) authorize(ctx context.Context, fullMethod string) (context.Context, error) {
	if c.PublicMethods[fullMethod] {
		return ctx, nil
	}
	principal, err := c.Guard.Authorize(ctx, BearerFromContext(ctx, c.Config), c.operation(fullMethod))
	if err != nil {
		if !c.RequireAuth && ac.KindOf(err) != ac.KindInternal {
			return ctx, nil
		}
		return nil, status.Error(ac.GRPCCode(ac.KindOf(err)), ac.PublicMessage(err))
	}
	return ac.WithPrincipal(ctx, principal), nil
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that runs the access
// guard and stores the admitted principal in the handler's context.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config.ensureDefaults()

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, err := config.authorize(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor is the streaming counterpart of UnaryAuthInterceptor.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config.ensureDefaults()

	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := config.authorize(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authStream{ServerStream: ss, ctx: ctx})
	}
}

type authStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authStream) Context() context.Context { return s.ctx }
