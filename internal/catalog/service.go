package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	sserr "github.com/StricklySoft/catalog-edge/pkg/errors"
	"github.com/StricklySoft/catalog-edge/pkg/store"
)

// Service reads catalog documents through a read-through cache. Cache
// failures are logged and bypassed; they never fail a read.
type Service struct {
	docs     store.DocumentSearch
	cache    store.KeyValueCache
	cfg      Config
	logger   *slog.Logger
	validate *validator.Validate
}

// Option configures a [Service].
type Option func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService returns a Service. A nil cache disables caching.
func NewService(docs store.DocumentSearch, cache store.KeyValueCache, cfg Config, opts ...Option) *Service {
	s := &Service{
		docs:     docs,
		cache:    cache,
		cfg:      cfg,
		logger:   slog.Default(),
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("param"); name != "" {
			return name
		}
		return f.Name
	})
	v.RegisterStructValidation(validateWindow, Query{})
	return v
}

// validateWindow rejects pages that end past [MaxResultWindow]. The bound is
// checked by division so huge page numbers cannot overflow the offset.
func validateWindow(sl validator.StructLevel) {
	q := sl.Current().Interface().(Query)
	if q.PageNumber < 1 || q.PageSize < 1 {
		return
	}
	if q.PageNumber > MaxResultWindow/q.PageSize {
		sl.ReportError(q.PageNumber, "page_number", "PageNumber", "window", strconv.Itoa(MaxResultWindow))
	}
}

// Validate checks q and returns a client-safe description of the first
// failures, or "" when q is valid.
func (s *Service) Validate(q Query) string {
	err := s.validate.Struct(q)
	if err == nil {
		return ""
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return "invalid query parameters"
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, describe(fe))
	}
	return strings.Join(msgs, "; ")
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gte":
		return fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "window":
		return fmt.Sprintf("page_number * page_size must be <= %s", fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// Get returns one document. Ids that are not UUIDs are reported as
// NF_003 without touching the index.
func (s *Service) Get(ctx context.Context, kind Kind, id string) (Item, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, sserr.Newf(sserr.CodeNotFoundResource, "catalog: invalid %s id %q", kind, id)
	}
	key := fmt.Sprintf("catalog:%s:%s", kind, id)
	return readThrough(ctx, s, key, func() (Item, error) {
		doc, err := s.docs.Get(ctx, s.cfg.index(kind), id)
		if err != nil {
			return nil, err
		}
		return toItem(doc), nil
	})
}

// Search returns one page of kind matching q.Text. An invalid q yields
// VAL_001.
func (s *Service) Search(ctx context.Context, kind Kind, q Query) (Page, error) {
	if detail := s.Validate(q); detail != "" {
		return Page{}, sserr.Validationf("catalog: %s", detail)
	}
	key := fmt.Sprintf("catalog:search:%s:%s", kind, queryHash(q))
	return readThrough(ctx, s, key, func() (Page, error) {
		res, err := s.docs.Search(ctx, store.SearchRequest{
			Index: s.cfg.index(kind),
			Field: kind.searchField(),
			Query: q.Text,
			From:  (q.PageNumber - 1) * q.PageSize,
			Size:  q.PageSize,
		})
		if err != nil {
			return Page{}, err
		}
		page := Page{
			Total:      res.Total,
			PageNumber: q.PageNumber,
			PageSize:   q.PageSize,
			Items:      make([]Item, 0, len(res.Hits)),
		}
		for _, doc := range res.Hits {
			page.Items = append(page.Items, toItem(doc))
		}
		return page, nil
	})
}

func queryHash(q Query) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%d\x00%d", q.Text, q.PageNumber, q.PageSize)))
	return hex.EncodeToString(sum[:16])
}

// readThrough serves key from the cache, or calls fetch and caches its
// result for the configured TTL.
func readThrough[T any](ctx context.Context, s *Service, key string, fetch func() (T, error)) (T, error) {
	if s.cache != nil {
		raw, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "catalog: cache read failed, bypassing", "key", key, "error", err)
		case ok:
			var v T
			if err := json.Unmarshal(raw, &v); err == nil {
				return v, nil
			}
			s.logger.WarnContext(ctx, "catalog: dropping undecodable cache entry", "key", key)
		}
	}

	v, err := fetch()
	if err != nil {
		return v, err
	}

	if s.cache != nil {
		s.store(ctx, key, v)
	}
	return v, nil
}

func (s *Service) store(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.logger.WarnContext(ctx, "catalog: cannot encode cache entry", "key", key, "error", err)
		return
	}
	ttl := s.cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if err := s.cache.Set(ctx, key, raw, ttl); err != nil {
		s.logger.WarnContext(ctx, "catalog: cache write failed", "key", key, "error", err)
	}
}
