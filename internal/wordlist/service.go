// Package wordlist implements the word-list service: CRUD over named word
// collections, spaced-repetition review updates, and the search corpora over
// list names and list contents.
//
// Every mutation invalidates the affected search corpora so stale indexes are
// rebuilt on the next search.
package wordlist

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lexibase/lexibase/internal/apperr"
	"github.com/lexibase/lexibase/internal/corpus"
	"github.com/lexibase/lexibase/internal/model"
	"github.com/lexibase/lexibase/internal/store"
)

// namesCorpus is the shared corpus over all list names.
const namesCorpus = "wordlist-names"

// wordsCorpus names the per-list corpus over a list's word texts.
func wordsCorpus(listID uuid.UUID) string {
	return "wordlist:" + listID.String()
}

// Service coordinates word-list persistence and search. Construct with
// [New]; safe for concurrent use.
type Service struct {
	store   *store.Store
	corpora *corpus.Manager

	namesTTL time.Duration
	listTTL  time.Duration
	log      *slog.Logger
}

// New constructs a Service. The TTLs bound how long the name and per-list
// search corpora stay fresh without an explicit invalidation.
func New(st *store.Store, corpora *corpus.Manager, namesTTL, listTTL time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    st,
		corpora:  corpora,
		namesTTL: namesTTL,
		listTTL:  listTTL,
		log:      log,
	}
}

// Create validates and persists a new list.
func (s *Service) Create(ctx context.Context, wl *model.WordList) error {
	if wl.Name == "" {
		return &apperr.ValidationError{Field: "name", Message: "must not be empty", Code: "required"}
	}
	if wl.Visibility != "" && !wl.Visibility.IsValid() {
		return &apperr.ValidationError{Field: "visibility", Message: fmt.Sprintf("unknown visibility %q", wl.Visibility), Code: "invalid"}
	}
	s.recomputeStats(wl)
	if err := s.store.WordLists.Create(ctx, wl); err != nil {
		return err
	}
	s.corpora.Invalidate(namesCorpus)
	return nil
}

// Get returns a list with dangling word references filtered out. The stored
// row is not rewritten; filtering happens on the returned copy only.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.WordList, error) {
	wl, err := s.store.WordLists.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.filterDangling(ctx, wl)
}

// GetByHashID returns the oldest list whose content hash matches.
func (s *Service) GetByHashID(ctx context.Context, hashID string) (*model.WordList, error) {
	wl, err := s.store.WordLists.GetByHashID(ctx, hashID)
	if err != nil {
		return nil, err
	}
	return s.filterDangling(ctx, wl)
}

// ListByOwner returns the owner's lists.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]*model.WordList, error) {
	return s.store.WordLists.ListByOwner(ctx, ownerID)
}

// ListPublic returns all public lists.
func (s *Service) ListPublic(ctx context.Context) ([]*model.WordList, error) {
	return s.store.WordLists.ListPublic(ctx)
}

// Delete removes a list and drops its per-list search corpus.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.WordLists.Delete(ctx, id); err != nil {
		return err
	}
	s.corpora.Invalidate(namesCorpus)
	s.corpora.Remove(ctx, wordsCorpus(id))
	return nil
}

// Rename changes a list's name and invalidates the names corpus.
func (s *Service) Rename(ctx context.Context, id uuid.UUID, name string) (*model.WordList, error) {
	if name == "" {
		return nil, &apperr.ValidationError{Field: "name", Message: "must not be empty", Code: "required"}
	}
	wl, err := s.store.WordLists.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	wl.Name = name
	if err := s.store.WordLists.Update(ctx, wl); err != nil {
		return nil, err
	}
	s.corpora.Invalidate(namesCorpus)
	return wl, nil
}

// AddWords appends items to a list, skipping word ids already present, and
// invalidates the list's corpora.
func (s *Service) AddWords(ctx context.Context, id uuid.UUID, items []model.WordListItem) (*model.WordList, error) {
	wl, err := s.store.WordLists.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	present := make(map[uuid.UUID]bool, len(wl.Words))
	for _, it := range wl.Words {
		present[it.WordID] = true
	}
	for _, it := range items {
		if present[it.WordID] {
			continue
		}
		if it.EaseFactor == 0 {
			it.EaseFactor = defaultEaseFactor
		}
		wl.Words = append(wl.Words, it)
		present[it.WordID] = true
	}

	s.recomputeStats(wl)
	if err := s.store.WordLists.Update(ctx, wl); err != nil {
		return nil, err
	}
	s.invalidateListCorpora(id)
	return wl, nil
}

// RemoveWords drops the given word ids from a list and invalidates the
// list's corpora.
func (s *Service) RemoveWords(ctx context.Context, id uuid.UUID, wordIDs []uuid.UUID) (*model.WordList, error) {
	wl, err := s.store.WordLists.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	drop := make(map[uuid.UUID]bool, len(wordIDs))
	for _, wid := range wordIDs {
		drop[wid] = true
	}
	kept := wl.Words[:0]
	for _, it := range wl.Words {
		if !drop[it.WordID] {
			kept = append(kept, it)
		}
	}
	wl.Words = kept

	s.recomputeStats(wl)
	if err := s.store.WordLists.Update(ctx, wl); err != nil {
		return nil, err
	}
	s.invalidateListCorpora(id)
	return wl, nil
}

// SearchLists queries the shared list-names corpus.
func (s *Service) SearchLists(ctx context.Context, query string, maxResults int, minScore float64, semantic *bool) ([]corpus.Match, error) {
	err := s.corpora.CreateOrGet(ctx, namesCorpus, s.namesTTL, func(ctx context.Context) ([]corpus.Item, error) {
		lists, err := s.store.WordLists.ListAll(ctx)
		if err != nil {
			return nil, err
		}
		items := make([]corpus.Item, len(lists))
		for i, wl := range lists {
			items[i] = corpus.Item{Key: wl.ID.String(), Term: wl.Name}
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return s.corpora.Search(ctx, namesCorpus, query, maxResults, minScore, semantic)
}

// SearchWords queries the per-list corpus over the texts of a list's words.
func (s *Service) SearchWords(ctx context.Context, listID uuid.UUID, query string, maxResults int, minScore float64, semantic *bool) ([]corpus.Match, error) {
	name := wordsCorpus(listID)
	err := s.corpora.CreateOrGet(ctx, name, s.listTTL, func(ctx context.Context) ([]corpus.Item, error) {
		wl, err := s.store.WordLists.Get(ctx, listID)
		if err != nil {
			return nil, err
		}
		ids := make([]uuid.UUID, len(wl.Words))
		for i, it := range wl.Words {
			ids[i] = it.WordID
		}
		words, err := s.store.Words.ListByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		items := make([]corpus.Item, len(words))
		for i, w := range words {
			items[i] = corpus.Item{Key: w.ID.String(), Term: w.Text}
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return s.corpora.Search(ctx, name, query, maxResults, minScore, semantic)
}

// invalidateListCorpora marks both corpora touched by a content mutation.
func (s *Service) invalidateListCorpora(id uuid.UUID) {
	s.corpora.Invalidate(namesCorpus)
	s.corpora.Invalidate(wordsCorpus(id))
}

// filterDangling drops items whose word no longer exists.
func (s *Service) filterDangling(ctx context.Context, wl *model.WordList) (*model.WordList, error) {
	if len(wl.Words) == 0 {
		return wl, nil
	}
	ids := make([]uuid.UUID, len(wl.Words))
	for i, it := range wl.Words {
		ids[i] = it.WordID
	}
	words, err := s.store.Words.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(words) == len(wl.Words) {
		return wl, nil
	}
	exists := make(map[uuid.UUID]bool, len(words))
	for _, w := range words {
		exists[w.ID] = true
	}
	kept := make([]model.WordListItem, 0, len(words))
	for _, it := range wl.Words {
		if exists[it.WordID] {
			kept = append(kept, it)
		}
	}
	wl.Words = kept
	return wl, nil
}

// recomputeStats refreshes the aggregate learning stats from the item set.
func (s *Service) recomputeStats(wl *model.WordList) {
	now := time.Now()
	stats := model.LearningStats{TotalWords: len(wl.Words)}
	for _, it := range wl.Words {
		if it.MasteryLevel >= masteredLevel {
			stats.MasteredWords++
		}
		if it.NextReviewAt.IsZero() || !it.NextReviewAt.After(now) {
			stats.DueWords++
		}
		for _, rec := range it.History {
			if rec.ReviewedAt.After(stats.LastReviewed) {
				stats.LastReviewed = rec.ReviewedAt
			}
		}
	}
	wl.Stats = stats
}
