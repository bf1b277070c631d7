// Package artifact holds the sketches submitted per category.
package artifact

import (
	"sync"

	"github.com/Art-Therapy-Chat/web-front/internal/models"
)

// Store keeps at most one encoded image per category. It does not look at the image content.
type Store struct {
	mu     sync.RWMutex
	images map[models.Category][]byte
}

func NewStore() *Store {
	return &Store{
		images: map[models.Category][]byte{},
	}
}

// Set stores image for category, replacing any previous one. An empty image clears the category.
func (s *Store) Set(category models.Category, image []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(image) == 0 {
		delete(s.images, category)
		return
	}
	s.images[category] = append([]byte(nil), image...)
}

// Get returns the image of category if present.
func (s *Store) Get(category models.Category) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	image, ok := s.images[category]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), image...), true
}

// Any reports whether at least one category has an image.
func (s *Store) Any() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.images) > 0
}

// Clear removes the image of category.
func (s *Store) Clear(category models.Category) {
	s.Set(category, nil)
}

// Reset removes all images.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = map[models.Category][]byte{}
}

// Present lists the categories with an image in the fixed category order.
func (s *Store) Present() []models.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	present := make([]models.Category, 0, len(s.images))
	for _, c := range models.Categories {
		if _, ok := s.images[c]; ok {
			present = append(present, c)
		}
	}
	return present
}

// Snapshot returns a copy of all stored images.
func (s *Store) Snapshot() map[models.Category][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	images := make(map[models.Category][]byte, len(s.images))
	for c, image := range s.images {
		images[c] = append([]byte(nil), image...)
	}
	return images
}
