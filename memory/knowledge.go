package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/evolvai/evolv/core"
)

// KnowledgeStore is the durable store of skills and preferences, with a
// chromem-go vector index for semantic search. Skill records are the
// source of truth (JSON snapshot under the configured path); the vector
// collection is rebuilt from them on open.
//
// Concurrency: reader-preferring RWMutex; writers serialize.
type KnowledgeStore struct {
	mu     sync.RWMutex
	skills map[string]*core.Skill

	db         *chromem.DB
	collection *chromem.Collection
	embed      EmbeddingFunc

	prefs *preferenceTable

	config core.KnowledgeConfig
	logger core.Logger

	lastOptimize OptimizeStats

	stopCh   chan struct{}
	stopOnce sync.Once
}

// SkillFilter narrows skill search and listing.
type SkillFilter struct {
	Type           core.SkillType
	Category       string
	Author         core.SkillAuthor
	MinSimilarity  float64
	IncludeDeleted bool
}

// SkillMatch is one ranked semantic search result.
type SkillMatch struct {
	Skill      core.Skill
	Similarity float64
}

const skillCollection = "skills"

// NewKnowledgeStore opens (or creates) a knowledge store at the configured
// path. A nil embed falls back to the local hash embedder.
func NewKnowledgeStore(config core.KnowledgeConfig, embed EmbeddingFunc, logger core.Logger) (*KnowledgeStore, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if embed == nil {
		embed = HashEmbedder()
	}
	if config.EWMAAlpha <= 0 || config.EWMAAlpha > 1 {
		config.EWMAAlpha = 0.2
	}
	if config.Path != "" {
		if err := os.MkdirAll(config.Path, 0o755); err != nil {
			return nil, &core.FrameworkError{Op: "knowledge.Open", Kind: "store", ID: config.Path, Err: err}
		}
	}

	db := chromem.NewDB()
	collection, err := db.GetOrCreateCollection(skillCollection, nil, chromem.EmbeddingFunc(embed))
	if err != nil {
		return nil, &core.FrameworkError{Op: "knowledge.Open", Kind: "store", Err: err}
	}

	ks := &KnowledgeStore{
		skills:     make(map[string]*core.Skill),
		db:         db,
		collection: collection,
		embed:      embed,
		prefs:      newPreferenceTable(),
		config:     config,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
	if err := ks.load(); err != nil {
		return nil, err
	}
	return ks, nil
}

// SaveSkill validates and stores a skill, returning its ID. Required
// fields are name, type, and at least one step.
func (ks *KnowledgeStore) SaveSkill(ctx context.Context, skill *core.Skill) (string, error) {
	if skill.Name == "" || skill.Type == "" {
		return "", &core.FrameworkError{Op: "knowledge.SaveSkill", Kind: "store", Err: core.ErrStoreWrite, Message: "skill name and type are required"}
	}
	if len(skill.Steps) == 0 {
		return "", &core.FrameworkError{Op: "knowledge.SaveSkill", Kind: "store", ID: skill.Name, Err: core.ErrStoreWrite, Message: "skill has no steps"}
	}
	if skill.ID == "" {
		skill.ID = core.SkillID(skill.Name, skill.Description)
	}
	if skill.Version == "" {
		skill.Version = "1.0.0"
	}
	if skill.Author == "" {
		skill.Author = core.AuthorSystem
	}
	now := time.Now()
	if skill.CreatedAt.IsZero() {
		skill.CreatedAt = now
	}
	skill.UpdatedAt = now

	embedding, err := ks.embed(ctx, skill.EmbeddingText())
	if err != nil {
		return "", &core.FrameworkError{Op: "knowledge.SaveSkill", Kind: "store", ID: skill.ID, Err: err}
	}
	skill.Embedding = embedding

	ks.mu.Lock()
	defer ks.mu.Unlock()

	stored := *skill
	ks.skills[skill.ID] = &stored
	if err := ks.indexLocked(ctx, &stored); err != nil {
		return "", err
	}
	if err := ks.persistLocked(); err != nil {
		return "", err
	}

	ks.logger.Debug("Skill saved", map[string]interface{}{
		"operation": "skill_save",
		"skill_id":  skill.ID,
		"name":      skill.Name,
		"type":      string(skill.Type),
		"version":   skill.Version,
	})
	return skill.ID, nil
}

// GetSkill returns a copy of the skill with the given ID.
func (ks *KnowledgeStore) GetSkill(ctx context.Context, id string) (*core.Skill, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	s, ok := ks.skills[id]
	if !ok || s.Deleted {
		return nil, &core.FrameworkError{Op: "knowledge.GetSkill", Kind: "store", ID: id, Err: core.ErrSkillNotFound}
	}
	out := *s
	return &out, nil
}

// SearchSkills performs semantic search over the vector index. Results are
// ranked by cosine similarity and filtered by filter.MinSimilarity.
func (ks *KnowledgeStore) SearchSkills(ctx context.Context, query string, filter SkillFilter, limit int) ([]SkillMatch, error) {
	if limit <= 0 {
		limit = 10
	}
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	count := ks.collection.Count()
	if count == 0 {
		return nil, nil
	}
	n := limit * 2 // over-fetch: metadata filters apply after ranking
	if n > count {
		n = count
	}
	results, err := ks.collection.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, &core.FrameworkError{Op: "knowledge.SearchSkills", Kind: "store", Err: err}
	}

	matches := make([]SkillMatch, 0, len(results))
	for _, r := range results {
		s, ok := ks.skills[r.ID]
		if !ok || !filter.accepts(s) {
			continue
		}
		if float64(r.Similarity) < filter.MinSimilarity {
			continue
		}
		matches = append(matches, SkillMatch{Skill: *s, Similarity: float64(r.Similarity)})
		if len(matches) == limit {
			break
		}
	}
	return matches, nil
}

// SearchByType lists skills of one type, most recently updated first.
func (ks *KnowledgeStore) SearchByType(ctx context.Context, t core.SkillType) []core.Skill {
	return ks.ListAll(SkillFilter{Type: t}, 0)
}

// ListAll returns skills matching the filter. A zero limit means no limit.
func (ks *KnowledgeStore) ListAll(filter SkillFilter, limit int) []core.Skill {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	out := make([]core.Skill, 0, len(ks.skills))
	for _, s := range ks.skills {
		if filter.accepts(s) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SkillPatch describes an update to an existing skill. Nil fields are left
// unchanged.
type SkillPatch struct {
	Description *string
	Objectives  []string
	Categories  []string
	Steps       []core.SkillStep
	Metrics     *core.SkillMetrics
}

// UpdateSkill applies a patch, bumping the skill's version.
func (ks *KnowledgeStore) UpdateSkill(ctx context.Context, id string, patch SkillPatch) (*core.Skill, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	s, ok := ks.skills[id]
	if !ok || s.Deleted {
		return nil, &core.FrameworkError{Op: "knowledge.UpdateSkill", Kind: "store", ID: id, Err: core.ErrSkillNotFound}
	}
	if patch.Description != nil {
		s.Description = *patch.Description
	}
	if patch.Objectives != nil {
		s.Objectives = patch.Objectives
	}
	if patch.Categories != nil {
		s.Categories = patch.Categories
	}
	if patch.Steps != nil {
		if len(patch.Steps) == 0 {
			return nil, &core.FrameworkError{Op: "knowledge.UpdateSkill", Kind: "store", ID: id, Err: core.ErrStoreWrite, Message: "skill has no steps"}
		}
		s.Steps = patch.Steps
	}
	if patch.Metrics != nil {
		s.Metrics = *patch.Metrics
	}
	s.BumpVersion()
	s.UpdatedAt = time.Now()

	embedding, err := ks.embed(ctx, s.EmbeddingText())
	if err != nil {
		return nil, &core.FrameworkError{Op: "knowledge.UpdateSkill", Kind: "store", ID: id, Err: err}
	}
	s.Embedding = embedding
	if err := ks.indexLocked(ctx, s); err != nil {
		return nil, err
	}
	if err := ks.persistLocked(); err != nil {
		return nil, err
	}
	out := *s
	return &out, nil
}

// LinkSkills records a typed relation between two skills, in both
// directions.
func (ks *KnowledgeStore) LinkSkills(a, b, relation string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	sa, oka := ks.skills[a]
	sb, okb := ks.skills[b]
	if !oka || !okb {
		return &core.FrameworkError{Op: "knowledge.LinkSkills", Kind: "store", Err: core.ErrSkillNotFound}
	}
	sa.Related = appendUnique(sa.Related, relation+":"+b)
	sb.Related = appendUnique(sb.Related, relation+":"+a)
	return ks.persistLocked()
}

// RecordSkillUse folds one outcome into a skill's EWMA metrics.
func (ks *KnowledgeStore) RecordSkillUse(ctx context.Context, id string, success bool, duration time.Duration) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	s, ok := ks.skills[id]
	if !ok {
		return &core.FrameworkError{Op: "knowledge.RecordSkillUse", Kind: "store", ID: id, Err: core.ErrSkillNotFound}
	}
	s.RecordUse(success, duration, ks.config.EWMAAlpha)
	return ks.persistLocked()
}

// DeleteSkill soft-deletes a skill. The record stays for provenance but is
// invisible to search and listing.
func (ks *KnowledgeStore) DeleteSkill(ctx context.Context, id string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	s, ok := ks.skills[id]
	if !ok {
		return &core.FrameworkError{Op: "knowledge.DeleteSkill", Kind: "store", ID: id, Err: core.ErrSkillNotFound}
	}
	s.Deleted = true
	s.UpdatedAt = time.Now()
	_ = ks.collection.Delete(ctx, nil, nil, id)
	return ks.persistLocked()
}

// RecordSample upserts the lightweight skill sample the execution engine
// extracts from every successful task.
func (ks *KnowledgeStore) RecordSample(ctx context.Context, sample core.SkillSample) error {
	name := fmt.Sprintf("sample:%s:%s", sample.TaskType, sample.Tool)
	id := core.SkillID(name, "")

	ks.mu.RLock()
	_, exists := ks.skills[id]
	ks.mu.RUnlock()

	if exists {
		return ks.RecordSkillUse(ctx, id, true, sample.Duration)
	}
	skill := &core.Skill{
		ID:         id,
		Name:       name,
		Type:       core.SkillTemplate,
		Categories: []string{sample.TaskType},
		Steps: []core.SkillStep{{
			Action:        sample.TaskType,
			Parameters:    sample.Parameters,
			RequiredTools: []string{sample.Tool},
		}},
		Author: core.AuthorSystem,
	}
	skill.RecordUse(true, sample.Duration, ks.config.EWMAAlpha)
	_, err := ks.SaveSkill(ctx, skill)
	return err
}

// Close stops the background optimizer, if started.
func (ks *KnowledgeStore) Close() {
	ks.stopOnce.Do(func() { close(ks.stopCh) })
}

func (f SkillFilter) accepts(s *core.Skill) bool {
	if s.Deleted && !f.IncludeDeleted {
		return false
	}
	if f.Type != "" && s.Type != f.Type {
		return false
	}
	if f.Author != "" && s.Author != f.Author {
		return false
	}
	if f.Category != "" {
		found := false
		for _, c := range s.Categories {
			if c == f.Category {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// indexLocked (re)indexes one skill in the vector collection. Caller holds
// the write lock.
func (ks *KnowledgeStore) indexLocked(ctx context.Context, s *core.Skill) error {
	err := ks.collection.AddDocument(ctx, chromem.Document{
		ID:        s.ID,
		Content:   s.EmbeddingText(),
		Embedding: s.Embedding,
		Metadata: map[string]string{
			"type":    string(s.Type),
			"version": s.Version,
		},
	})
	if err != nil {
		return &core.FrameworkError{Op: "knowledge.index", Kind: "store", ID: s.ID, Err: err}
	}
	return nil
}

func (ks *KnowledgeStore) skillsFile() string {
	if ks.config.Path == "" {
		return ""
	}
	return filepath.Join(ks.config.Path, "skills.json")
}

func (ks *KnowledgeStore) prefsFile() string {
	if ks.config.Path == "" {
		return ""
	}
	return filepath.Join(ks.config.Path, "preferences.json")
}

// persistLocked snapshots skill records to disk. Caller holds the write
// lock. In-memory mode (empty path) skips persistence.
func (ks *KnowledgeStore) persistLocked() error {
	path := ks.skillsFile()
	if path == "" {
		return nil
	}
	records := make([]*core.Skill, 0, len(ks.skills))
	for _, s := range ks.skills {
		records = append(records, s)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return &core.FrameworkError{Op: "knowledge.persist", Kind: "store", Err: err}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &core.FrameworkError{Op: "knowledge.persist", Kind: "store", Err: core.ErrStoreWrite, Message: err.Error()}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &core.FrameworkError{Op: "knowledge.persist", Kind: "store", Err: core.ErrStoreWrite, Message: err.Error()}
	}
	return nil
}

func (ks *KnowledgeStore) load() error {
	path := ks.skillsFile()
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ks.prefs.load(ks.prefsFile())
		}
		return &core.FrameworkError{Op: "knowledge.load", Kind: "store", ID: path, Err: err}
	}
	var records []*core.Skill
	if err := json.Unmarshal(data, &records); err != nil {
		return &core.FrameworkError{Op: "knowledge.load", Kind: "store", ID: path, Err: err}
	}
	ctx := context.Background()
	for _, s := range records {
		embedding, err := ks.embed(ctx, s.EmbeddingText())
		if err != nil {
			return &core.FrameworkError{Op: "knowledge.load", Kind: "store", ID: s.ID, Err: err}
		}
		s.Embedding = embedding
		ks.skills[s.ID] = s
		if !s.Deleted {
			if err := ks.indexLocked(ctx, s); err != nil {
				return err
			}
		}
	}
	ks.logger.Info("Knowledge store loaded", map[string]interface{}{
		"operation": "knowledge_load",
		"skills":    len(records),
	})
	return ks.prefs.load(ks.prefsFile())
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
