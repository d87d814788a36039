package storage

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"tasktracker/domain"
)

// DefaultCategories are created on first seed.
var DefaultCategories = []string{"Development", "Design", "Marketing", "Testing", "Documentation"}

// DefaultPriorities are created on first seed.
var DefaultPriorities = []string{domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh, domain.PriorityUrgent}

type sampleTask struct {
	title       string
	description string
	dueInDays   int
	status      domain.Status
	category    string
	priority    string
}

var sampleTasks = []sampleTask{
	{"Implement authentication system", "Create complete login and user registration system with email validation.", 7, domain.StatusInProgress, "Development", domain.PriorityHigh},
	{"Homepage design", "Create wireframes and mockups for the new website homepage.", 5, domain.StatusPending, "Design", domain.PriorityMedium},
	{"Email marketing campaign", "Develop email marketing campaign for product launch.", 10, domain.StatusPending, "Marketing", domain.PriorityHigh},
	{"Payment module unit tests", "Create unit tests to validate all payment module functionalities.", 3, domain.StatusPending, "Testing", domain.PriorityUrgent},
	{"API documentation", "Create complete documentation for REST API endpoints.", 14, domain.StatusPending, "Documentation", domain.PriorityMedium},
	{"Performance optimization", "Analyze and optimize database queries to improve performance.", 12, domain.StatusInProgress, "Development", domain.PriorityHigh},
	{"Dashboard redesign", "Redesign administrative dashboard interface with focus on UX.", 20, domain.StatusPending, "Design", domain.PriorityMedium},
	{"Setup CI/CD", "Implement continuous integration pipeline and automated deployment.", 8, domain.StatusPending, "Development", domain.PriorityHigh},
	{"SEO analysis", "Perform complete SEO audit and implement improvements.", 15, domain.StatusPending, "Marketing", domain.PriorityLow},
	{"Integration tests", "Create integration test suite for all main functionalities.", 6, domain.StatusInProgress, "Testing", domain.PriorityMedium},
	{"Implement push notifications", "Add push notification system for mobile users.", 18, domain.StatusPending, "Development", domain.PriorityLow},
	{"Create user guide", "Develop comprehensive application usage guide for new users.", 25, domain.StatusPending, "Documentation", domain.PriorityLow},
	{"Implement backup system", "Configure automated data backup system.", 4, domain.StatusPending, "Development", domain.PriorityUrgent},
	{"Icon design", "Create custom icon set for the application.", 16, domain.StatusCompleted, "Design", domain.PriorityLow},
	{"Social media campaign", "Plan and execute social media marketing campaign.", 9, domain.StatusInProgress, "Marketing", domain.PriorityMedium},
	{"Usability testing", "Conduct usability testing with real users.", 22, domain.StatusPending, "Testing", domain.PriorityMedium},
	{"Implement logging system", "Add detailed logging system for monitoring.", 11, domain.StatusPending, "Development", domain.PriorityMedium},
	{"Create email templates", "Develop responsive templates for transactional emails.", 13, domain.StatusPending, "Design", domain.PriorityLow},
	{"Configure monitoring", "Implement performance and uptime monitoring system.", 7, domain.StatusCancelled, "Development", domain.PriorityHigh},
	{"Technical manual", "Create detailed technical manual for development team.", 30, domain.StatusPending, "Documentation", domain.PriorityLow},
}

// Seeder is implemented by stores that can be populated with defaults.
type Seeder interface {
	Categories(ctx context.Context) ([]domain.Category, error)
	Priorities(ctx context.Context) ([]domain.Priority, error)
	AddCategory(ctx context.Context, name string) (domain.Category, error)
	AddPriority(ctx context.Context, level string) (domain.Priority, error)
	CreateTask(ctx context.Context, t domain.Task) (domain.Task, error)
}

// SeedWithCache seeds s and then drops the reference lists cache stored
// before seeding. cache may be nil.
func SeedWithCache(ctx context.Context, s Seeder, cache *ReferenceCache, now time.Time) error {
	if err := Seed(ctx, s, now); err != nil {
		return err
	}
	if cache != nil {
		cache.Invalidate(ctx)
	}
	return nil
}

// Seed creates the default categories, priorities and sample tasks. It does
// nothing when categories already exist.
func Seed(ctx context.Context, s Seeder, now time.Time) error {
	existing, err := s.Categories(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		log.WithField("categories", len(existing)).Debug("seed skipped, reference data present")
		return nil
	}

	categories := make(map[string]int64, len(DefaultCategories))
	for _, name := range DefaultCategories {
		c, err := s.AddCategory(ctx, name)
		if err != nil {
			return err
		}
		categories[name] = c.ID
	}
	priorities := make(map[string]int64, len(DefaultPriorities))
	for _, level := range DefaultPriorities {
		p, err := s.AddPriority(ctx, level)
		if err != nil {
			return err
		}
		priorities[level] = p.ID
	}

	now = now.UTC()
	for i, st := range sampleTasks {
		// Spread creation times so the listing order is stable.
		created := now.Add(time.Duration(i-len(sampleTasks)) * time.Second)
		_, err := s.CreateTask(ctx, domain.Task{
			Title:       st.title,
			Description: st.description,
			DueDate:     domain.NewDate(now.AddDate(0, 0, st.dueInDays)),
			Status:      st.status,
			CategoryID:  categories[st.category],
			PriorityID:  priorities[st.priority],
			CreatedAt:   created,
			UpdatedAt:   created,
		})
		if err != nil {
			return fmt.Errorf("seed task %q: %w", st.title, err)
		}
	}
	log.WithFields(log.Fields{"categories": len(categories), "priorities": len(priorities), "tasks": len(sampleTasks)}).Info("seed complete")
	return nil
}
