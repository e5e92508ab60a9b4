package poster

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/crosspost/internal/models"
)

// LoginStatus is what a website reports about an account session.
type LoginStatus struct {
	LoggedIn bool   `json:"logged_in"`
	Username string `json:"username,omitempty"`
}

// PostData is the merged content handed to a website for one account.
type PostData struct {
	SubmissionID string            `json:"submission_id"`
	AccountID    string            `json:"account_id"`
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	Tags         []string          `json:"tags"`
	Rating       string            `json:"rating"`
	Sources      []string          `json:"sources"`
	Options      map[string]string `json:"options,omitempty"`
}

// PostFile is a loaded file ready to be uploaded.
type PostFile struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// FilePostData is PostData plus the files of a FILE submission.
type FilePostData struct {
	PostData
	Primary    PostFile   `json:"primary"`
	Thumbnail  *PostFile  `json:"thumbnail,omitempty"`
	Additional []PostFile `json:"additional,omitempty"`
}

// PostResponse is what a website returns after a successful post.
type PostResponse struct {
	Source         string
	Message        string
	AdditionalInfo any
}

// ValidationResult lists blocking problems and non-blocking warnings.
type ValidationResult struct {
	Problems []string `json:"problems,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Website is implemented once per external site.
type Website interface {
	Name() string

	// AcceptsSourceURLs reports whether posts can reference sources produced
	// by other websites for the same submission.
	AcceptsSourceURLs() bool
	// WaitBetweenPosts is the minimum spacing between two posts of the same
	// account.
	WaitBetweenPosts() time.Duration

	CheckLogin(ctx context.Context, accountID string) (LoginStatus, error)
	PostFile(ctx context.Context, token *CancellationToken, data FilePostData) (*PostResponse, error)
	PostNotification(ctx context.Context, token *CancellationToken, data PostData) (*PostResponse, error)

	Validate(submission *models.Submission, part, defaultPart *models.SubmissionPart) ValidationResult
}

// FileLoader resolves the file references stored on a submission.
type FileLoader interface {
	Load(ctx context.Context, ref string) (PostFile, error)
}

// Registry maps website names to their adapters.
type Registry struct {
	mu       sync.RWMutex
	websites map[string]Website
	logger   *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		websites: make(map[string]Website),
		logger:   logger,
	}
}

func (r *Registry) Register(website Website) error {
	name := website.Name()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.websites[name]; exists {
		return fmt.Errorf("website %s already registered", name)
	}

	r.websites[name] = website
	r.logger.Info("Website registered",
		zap.String("website", name),
		zap.Bool("accepts_source_urls", website.AcceptsSourceURLs()),
		zap.Duration("wait_between_posts", website.WaitBetweenPosts()))
	return nil
}

func (r *Registry) Get(name string) (Website, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	website, exists := r.websites[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWebsite, name)
	}
	return website, nil
}

// Names returns the registered website names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.websites))
	for name := range r.websites {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
