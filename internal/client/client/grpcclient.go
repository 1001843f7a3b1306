package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/churchkeeper/internal/client/models"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "churchkeeper.sync.v1.SyncService"

const (
	MethodPing         = "/" + ServiceName + "/Ping"
	MethodPushProgress = "/" + ServiceName + "/PushProgress"
	MethodFetchCourses = "/" + ServiceName + "/FetchCourses"
	MethodFetchAgenda  = "/" + ServiceName + "/FetchAgenda"
)

const (
	HeaderTenantID       = "x-tenant-id"
	HeaderDeviceID       = "x-device-id"
	HeaderIdempotencyKey = "idempotency-key"
	HeaderAuthorization  = "authorization"
)

const defaultCallTimeout = 12 * time.Second

type GRPCClient struct {
	endpointURL string
	conn        *grpc.ClientConn
	deviceID    string
	token       string
	callTimeout time.Duration
	dialOpts    []grpc.DialOption
}

type Option func(*GRPCClient)

func WithDeviceID(id string) Option {
	return func(c *GRPCClient) { c.deviceID = id }
}

// WithToken sends "authorization: Bearer <token>" on every call.
func WithToken(token string) Option {
	return func(c *GRPCClient) { c.token = token }
}

// WithCallTimeout bounds each call; zero leaves only the caller's deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(c *GRPCClient) { c.callTimeout = d }
}

// WithDialOptions appends to the default insecure transport options.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *GRPCClient) { c.dialOpts = append(c.dialOpts, opts...) }
}

// NewSyncClient prepares a connection to endpointURL. The connection is
// established lazily, so this succeeds while offline.
func NewSyncClient(endpointURL string, opts ...Option) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL, callTimeout: defaultCallTimeout}
	for _, o := range opts {
		o(c)
	}
	if err := c.initGRPCClient(); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *GRPCClient) initGRPCClient() error {
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(s.headersInterceptor),
	}, s.dialOpts...)

	conn, err := grpc.NewClient(s.endpointURL, opts...)
	if err != nil {
		return err
	}
	s.conn = conn
	return nil
}

func (s *GRPCClient) Close() error {
	return s.conn.Close()
}

func withHeader(ctx context.Context, key, value string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(key, value)
	return metadata.NewOutgoingContext(ctx, md)
}

// headersInterceptor adds the per-installation headers to every call.
func (s *GRPCClient) headersInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if s.deviceID != "" {
		ctx = withHeader(ctx, HeaderDeviceID, s.deviceID)
	}
	if s.token != "" {
		ctx = withHeader(ctx, HeaderAuthorization, "Bearer "+s.token)
	}
	return invoker(ctx, method, req, reply, cc, opts...)
}

func (s *GRPCClient) invoke(ctx context.Context, method string, in, out any) error {
	if s.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
	}

	req, err := toStruct(in)
	if err != nil {
		return err
	}
	resp := &structpb.Struct{}
	if err := s.conn.Invoke(ctx, method, req, resp); err != nil {
		return s.mapError(err)
	}
	if out == nil {
		return nil
	}
	return fromStruct(resp, out)
}

type pingResponse struct {
	Status string `json:"status"`
}

func (s *GRPCClient) Ping(ctx context.Context) error {
	var resp pingResponse
	if err := s.invoke(ctx, MethodPing, struct{}{}, &resp); err != nil {
		return err
	}
	if resp.Status != "OK" {
		return ErrUnavailable
	}
	return nil
}

type pushProgressRequest struct {
	UserID          string     `json:"userId"`
	CourseID        string     `json:"courseId"`
	LessonID        string     `json:"lessonId"`
	ProgressPercent int        `json:"progressPercent"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	WrittenAt       int64      `json:"writtenAt"`
	TenantID        string     `json:"tenantId"`
}

type pushProgressResponse struct {
	Accepted bool `json:"accepted"`
}

func (s *GRPCClient) PushProgress(ctx context.Context, rec models.ProgressRecord, idempotencyKey string) (bool, error) {
	ctx = withHeader(ctx, HeaderTenantID, rec.TenantID)
	ctx = withHeader(ctx, HeaderIdempotencyKey, idempotencyKey)

	req := pushProgressRequest{
		UserID:          rec.UserID,
		CourseID:        rec.CourseID,
		LessonID:        rec.LessonID,
		ProgressPercent: rec.ProgressPercent,
		CompletedAt:     rec.CompletedAt,
		WrittenAt:       rec.WrittenAt,
		TenantID:        rec.TenantID,
	}

	var resp pushProgressResponse
	if err := s.invoke(ctx, MethodPushProgress, req, &resp); err != nil {
		return false, err
	}
	return resp.Accepted, nil
}

type fetchCoursesRequest struct {
	TenantID string `json:"tenantId"`
}

type fetchCoursesResponse struct {
	Courses []models.CourseSummary `json:"courses"`
}

func (s *GRPCClient) FetchCourses(ctx context.Context, tenantID string) ([]models.CourseSummary, error) {
	ctx = withHeader(ctx, HeaderTenantID, tenantID)

	var resp fetchCoursesResponse
	if err := s.invoke(ctx, MethodFetchCourses, fetchCoursesRequest{TenantID: tenantID}, &resp); err != nil {
		return nil, err
	}
	return resp.Courses, nil
}

type fetchAgendaRequest struct {
	UserID   string `json:"userId"`
	TenantID string `json:"tenantId"`
}

type fetchAgendaResponse struct {
	Items []models.AgendaItem `json:"items"`
}

func (s *GRPCClient) FetchAgenda(ctx context.Context, userID, tenantID string) ([]models.AgendaItem, error) {
	ctx = withHeader(ctx, HeaderTenantID, tenantID)

	var resp fetchAgendaResponse
	req := fetchAgendaRequest{UserID: userID, TenantID: tenantID}
	if err := s.invoke(ctx, MethodFetchAgenda, req, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (s *GRPCClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return ErrUnauthorized
	case codes.Unavailable, codes.DeadlineExceeded:
		return ErrUnavailable
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}

// toStruct converts a JSON-tagged Go value into a Struct message.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	st := &structpb.Struct{}
	if err := protojson.Unmarshal(b, st); err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return st, nil
}

// fromStruct decodes a Struct message into a JSON-tagged Go value.
// Numbers travel as doubles, which is exact for every integer we send.
func fromStruct(st *structpb.Struct, v any) error {
	b, err := protojson.Marshal(st)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %w", ErrBadResponse, err)
	}
	return nil
}
