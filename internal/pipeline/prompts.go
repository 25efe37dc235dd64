package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"kb-toolkit/internal/models"
)

var defaultPrompts = map[string]string{
	models.PromptTagDefinition: models.TagDefinitionPromptTemplate,
	models.PromptEnhancement:   models.EnhancementPromptTemplate,
	models.PromptSummary:       models.SummaryPromptTemplate,
	models.PromptAnswer:        models.AnswerPromptTemplate,
}

// PromptStore serves prompt templates, preferring <dir>/<name>.txt over the
// built-in defaults.
type PromptStore struct {
	mu    sync.RWMutex
	dir   string
	cache map[string]string
}

func NewPromptStore(dir string) *PromptStore {
	return &PromptStore{dir: dir, cache: make(map[string]string)}
}

// Load returns the template called name.
func (s *PromptStore) Load(name string) (string, error) {
	s.mu.RLock()
	prompt, ok := s.cache[name]
	s.mu.RUnlock()
	if ok {
		return prompt, nil
	}

	prompt, err := s.loadFromFile(name)
	if err != nil {
		def, ok := defaultPrompts[name]
		if !ok {
			return "", fmt.Errorf("load prompt %q: %w", name, err)
		}
		prompt = def
	}

	s.mu.Lock()
	s.cache[name] = prompt
	s.mu.Unlock()
	return prompt, nil
}

// MustLoad is Load for the built-in names, which always resolve.
func (s *PromptStore) MustLoad(name string) string {
	prompt, err := s.Load(name)
	if err != nil {
		panic(err)
	}
	return prompt
}

// Reload forgets cached templates.
func (s *PromptStore) Reload() {
	s.mu.Lock()
	s.cache = make(map[string]string)
	s.mu.Unlock()
}

func (s *PromptStore) Dir() string {
	return s.dir
}

func (s *PromptStore) loadFromFile(name string) (string, error) {
	if s.dir == "" {
		return "", os.ErrNotExist
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name+".txt"))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
