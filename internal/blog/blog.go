// Package blog отдаёт статьи и рубрики блога магазина.
package blog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mmeshcher/greenway-loyalty/internal/model"
)

//go:embed posts.yaml
var defaultFile []byte

var (
	// ErrPostNotFound возвращается, если статьи нет.
	ErrPostNotFound = errors.New("blog post not found")
	// ErrInvalidFile возвращается, если файл блога не удаётся разобрать.
	ErrInvalidFile = errors.New("invalid blog file")
)

// Filter ограничивает выборку статей. Пустые поля не фильтруют, Limit <= 0 снимает ограничение.
type Filter struct {
	Category string
	Tag      string
	Search   string
	Featured bool
	Limit    int
}

// Match сообщает, подходит ли статья под фильтр.
func (f Filter) Match(p model.BlogPost) bool {
	if f.Category != "" && f.Category != "all" && p.Category != f.Category {
		return false
	}
	if f.Featured && !p.Featured {
		return false
	}
	if f.Tag != "" && !slices.ContainsFunc(p.Tags, func(t string) bool { return strings.EqualFold(t, f.Tag) }) {
		return false
	}
	if f.Search != "" {
		return matchQuery(p, strings.ToLower(f.Search))
	}
	return true
}

func matchQuery(p model.BlogPost, q string) bool {
	if strings.Contains(strings.ToLower(p.Title), q) ||
		strings.Contains(strings.ToLower(p.Excerpt), q) ||
		strings.Contains(strings.ToLower(p.Content), q) {
		return true
	}
	return slices.ContainsFunc(p.Tags, func(t string) bool { return strings.Contains(strings.ToLower(t), q) })
}

// Store хранит статьи, отсортированные от новых к старым.
type Store struct {
	posts      []model.BlogPost
	categories []model.BlogCategory
}

type filePost struct {
	ID          string    `yaml:"id"`
	Title       string    `yaml:"title"`
	Slug        string    `yaml:"slug"`
	Excerpt     string    `yaml:"excerpt"`
	Content     string    `yaml:"content"`
	CoverImage  string    `yaml:"coverImage"`
	Category    string    `yaml:"category"`
	Tags        []string  `yaml:"tags"`
	Author      string    `yaml:"author"`
	AuthorImage string    `yaml:"authorImage"`
	PublishedAt time.Time `yaml:"publishedAt"`
	ReadTime    int       `yaml:"readTime"`
	Featured    bool      `yaml:"featured"`
}

type fileCategory struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Slug string `yaml:"slug"`
}

type file struct {
	Categories []fileCategory `yaml:"categories"`
	Posts      []filePost           `yaml:"posts"`
}

// Load читает блог из path. Пустой путь означает встроенные статьи.
func Load(path string) (*Store, error) {
	if path == "" {
		return Parse(defaultFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read blog %s: %w", path, err)
	}
	return Parse(data)
}

// Default возвращает встроенный блог.
func Default() (*Store, error) {
	return Parse(defaultFile)
}

// Parse разбирает YAML с рубриками и статьями. Идентификаторы и адреса статей должны быть
// уникальны, а рубрика каждой статьи должна быть объявлена.
func Parse(data []byte) (*Store, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}

	counts := make(map[string]int, len(f.Categories))
	for _, c := range f.Categories {
		if c.ID == "" {
			return nil, fmt.Errorf("%w: category without id", ErrInvalidFile)
		}
		if _, dup := counts[c.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate category %s", ErrInvalidFile, c.ID)
		}
		counts[c.ID] = 0
	}

	ids := make(map[string]struct{}, len(f.Posts))
	slugs := make(map[string]struct{}, len(f.Posts))
	posts := make([]model.BlogPost, 0, len(f.Posts))
	for _, p := range f.Posts {
		if p.ID == "" || p.Slug == "" {
			return nil, fmt.Errorf("%w: post %q requires id and slug", ErrInvalidFile, p.Title)
		}
		if _, dup := ids[p.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate post id %s", ErrInvalidFile, p.ID)
		}
		if _, dup := slugs[p.Slug]; dup {
			return nil, fmt.Errorf("%w: duplicate post slug %s", ErrInvalidFile, p.Slug)
		}
		if _, ok := counts[p.Category]; !ok {
			return nil, fmt.Errorf("%w: post %s: unknown category %q", ErrInvalidFile, p.ID, p.Category)
		}
		ids[p.ID] = struct{}{}
		slugs[p.Slug] = struct{}{}
		counts[p.Category]++

		posts = append(posts, model.BlogPost{
			ID:          p.ID,
			Title:       p.Title,
			Slug:        p.Slug,
			Excerpt:     p.Excerpt,
			Content:     p.Content,
			CoverImage:  p.CoverImage,
			Category:    p.Category,
			Tags:        p.Tags,
			Author:      p.Author,
			AuthorImage: p.AuthorImage,
			PublishedAt: p.PublishedAt.UTC(),
			ReadTime:    p.ReadTime,
			Featured:    p.Featured,
		})
	}
	slices.SortStableFunc(posts, func(a, b model.BlogPost) int { return b.PublishedAt.Compare(a.PublishedAt) })

	categories := make([]model.BlogCategory, 0, len(f.Categories))
	for _, c := range f.Categories {
		categories = append(categories, model.BlogCategory{ID: c.ID, Name: c.Name, Slug: c.Slug, Count: counts[c.ID]})
	}

	return &Store{posts: posts, categories: categories}, nil
}

// Posts возвращает статьи под фильтр, новые первыми.
func (s *Store) Posts(f Filter) []model.BlogPost {
	out := make([]model.BlogPost, 0, len(s.posts))
	for _, p := range s.posts {
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
		if f.Match(p) {
			out = append(out, p)
		}
	}
	return out
}

// Featured возвращает избранные статьи.
func (s *Store) Featured() []model.BlogPost {
	return s.Posts(Filter{Featured: true})
}

// ByCategory возвращает статьи рубрики.
func (s *Store) ByCategory(category string) []model.BlogPost {
	if category == "" {
		return []model.BlogPost{}
	}
	return s.Posts(Filter{Category: category})
}

// Recent возвращает n последних статей.
func (s *Store) Recent(n int) []model.BlogPost {
	if n <= 0 {
		return []model.BlogPost{}
	}
	return s.Posts(Filter{Limit: n})
}

// Search ищет без учёта регистра по заголовку, анонсу, тексту и тегам.
// Пустой запрос ничего не находит.
func (s *Store) Search(query string) []model.BlogPost {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []model.BlogPost{}
	}
	return s.Posts(Filter{Search: q})
}

// ByID возвращает статью по идентификатору.
func (s *Store) ByID(id string) (model.BlogPost, error) {
	for _, p := range s.posts {
		if p.ID == id {
			return p, nil
		}
	}
	return model.BlogPost{}, ErrPostNotFound
}

// BySlug возвращает статью по адресу.
func (s *Store) BySlug(slug string) (model.BlogPost, error) {
	for _, p := range s.posts {
		if p.Slug == slug {
			return p, nil
		}
	}
	return model.BlogPost{}, ErrPostNotFound
}

// Categories возвращает рубрики с числом статей.
func (s *Store) Categories() []model.BlogCategory {
	return slices.Clone(s.categories)
}
