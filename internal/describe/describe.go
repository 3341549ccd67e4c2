// Package describe generates AI product descriptions for shop admins. Only
// one request is in flight at a time: starting a new one cancels the old.
package describe

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/starshop/starchat/internal/client"
	"github.com/starshop/starchat/internal/metrics"
)

var (
	// ErrSuperseded is returned to a caller whose request was cancelled by a
	// newer one. It is not a failure.
	ErrSuperseded = errors.New("superseded by a newer request")

	// ErrEmptyProductName is returned before any network call when the
	// product name is blank.
	ErrEmptyProductName = errors.New("product name is required")
)

// Generator produces a description. *client.Client implements it.
type Generator interface {
	GenerateDescription(ctx context.Context, in client.DescriptionRequest) (string, error)
}

// Request is one generation request as entered by the admin.
type Request struct {
	ProductName string
	CatalogID   string
	// CatalogName feeds keyword extraction when Keywords is empty.
	CatalogName string
	Keywords    string
}

// Service runs generation requests, one at a time.
type Service struct {
	gen     Generator
	drafts  *Drafts
	logger  *slog.Logger
	metrics *metrics.Collector

	mu     sync.Mutex
	cancel context.CancelFunc
	seq    uint64
}

// New creates a Service. drafts and m may be nil.
func New(gen Generator, drafts *Drafts, logger *slog.Logger, m *metrics.Collector) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		gen:     gen,
		drafts:  drafts,
		logger:  logger.With("component", "describe"),
		metrics: m,
	}
}

// Generate requests a description for req. A request still running is
// cancelled first and its caller receives ErrSuperseded. The result is
// backed up as a draft.
func (s *Service) Generate(ctx context.Context, req Request) (string, error) {
	name := strings.TrimSpace(req.ProductName)
	if name == "" {
		return "", ErrEmptyProductName
	}
	keywords := strings.TrimSpace(req.Keywords)
	if keywords == "" {
		keywords = ExtractKeywords(name, req.CatalogName)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.seq++
	seq := s.seq
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.seq == seq {
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
	}()

	s.logger.Info("generating description", "product", name, "keywords", keywords)
	start := time.Now()
	text, err := s.gen.GenerateDescription(ctx, client.DescriptionRequest{
		ProductName: name,
		CatalogID:   req.CatalogID,
		Keywords:    keywords,
	})
	if err != nil {
		if s.superseded(seq) {
			s.logger.Debug("description request superseded", "product", name)
			return "", ErrSuperseded
		}
		s.metrics.RecordFailure(metrics.OpDescribe, time.Since(start))
		return "", err
	}
	s.metrics.RecordTiming(metrics.OpDescribe, time.Since(start))

	if s.drafts != nil {
		if err := s.drafts.Save(Draft{Product: name, Content: text}); err != nil {
			s.logger.Warn("saving draft failed", "error", err)
		}
	}
	return text, nil
}

// Cancel aborts the request in flight, if any. Its caller receives
// ErrSuperseded.
func (s *Service) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
		s.seq++
	}
}

func (s *Service) superseded(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq != seq
}

// ExtractKeywords builds a keyword list from the catalog name and at most two
// words of the product name. Words of two characters or fewer are skipped.
func ExtractKeywords(productName, catalogName string) string {
	var words []string
	if len([]rune(strings.TrimSpace(catalogName))) > 2 {
		words = append(words, strings.TrimSpace(catalogName))
	}
	taken := 0
	for _, w := range strings.Fields(productName) {
		if taken == 2 {
			break
		}
		if len([]rune(w)) > 2 {
			words = append(words, w)
			taken++
		}
	}
	return strings.Join(words, ", ")
}

// Admin-facing error texts.
const (
	MsgEmptyName   = "Vui lòng nhập tên sản phẩm trước khi tạo mô tả"
	MsgOverloaded  = "AI đang quá tải, vui lòng thử lại"
	MsgQuota       = "Đã vượt giới hạn sử dụng AI hôm nay"
	MsgUnreachable = "Không thể kết nối với AI"
	MsgGeneric     = "Đã xảy ra lỗi. Vui lòng kiểm tra kết nối mạng."
)

// FriendlyError maps a Generate error to the message shown to the admin.
// It returns "" for ErrSuperseded, which should not be shown.
func FriendlyError(err error) string {
	if err == nil || errors.Is(err, ErrSuperseded) {
		return ""
	}
	if errors.Is(err, ErrEmptyProductName) {
		return MsgEmptyName
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return MsgOverloaded
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return MsgOverloaded
	case strings.Contains(msg, "quota"):
		return MsgQuota
	case client.IsTransport(err):
		return MsgUnreachable
	}
	return MsgGeneric
}

