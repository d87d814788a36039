package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	log "github.com/sirupsen/logrus"

	"tasktracker/domain"
)

const (
	taskPartition     = "task"
	categoryPartition = "category"
	priorityPartition = "priority"

	edmInt64 = "Edm.Int64"
)

// TableStore persists tasks in Azure Table Storage. Table storage has no
// substring operator, so search and ordering run over the partition in memory.
type TableStore struct {
	tasks      *aztables.Client
	categories *aztables.Client
	priorities *aztables.Client
}

// NewTableStore creates a TableStore from the given connection string.
func NewTableStore(connStr, tasksTable, categoriesTable, prioritiesTable string) (*TableStore, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &TableStore{
		tasks:      svc.NewClient(tasksTable),
		categories: svc.NewClient(categoriesTable),
		priorities: svc.NewClient(prioritiesTable),
	}, nil
}

// EnsureTables creates the backing tables when they do not exist yet.
func (s *TableStore) EnsureTables(ctx context.Context) error {
	for _, c := range []*aztables.Client{s.tasks, s.categories, s.priorities} {
		if _, err := c.CreateTable(ctx, nil); err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
		}
	}
	return nil
}

// Ping issues a cheap query against the tasks table.
func (s *TableStore) Ping(ctx context.Context) error {
	top := int32(1)
	filter := "PartitionKey eq '" + taskPartition + "'"
	pager := s.tasks.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Top: &top})
	if pager.More() {
		_, err := pager.NextPage(ctx)
		return err
	}
	return nil
}

type tableKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type taskEntity struct {
	tableKeys
	Title          string `json:"Title"`
	Description    string `json:"Description"`
	DueDate        string `json:"DueDate"`
	Status         string `json:"Status"`
	CategoryID     int64  `json:"CategoryID,string"`
	CategoryIDType string `json:"CategoryID@odata.type"`
	PriorityID     int64  `json:"PriorityID,string"`
	PriorityIDType string `json:"PriorityID@odata.type"`
	CreatedAt      int64  `json:"CreatedAt,string"`
	CreatedAtType  string `json:"CreatedAt@odata.type"`
	UpdatedAt      int64  `json:"UpdatedAt,string"`
	UpdatedAtType  string `json:"UpdatedAt@odata.type"`
}

type taskStatusUpdate struct {
	tableKeys
	Status        string `json:"Status"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

type categoryEntity struct {
	tableKeys
	Name string `json:"Name"`
}

type priorityEntity struct {
	tableKeys
	Level string `json:"Level"`
}

var lastID int64

// nextID returns a strictly increasing id derived from the wall clock so ids
// sort in creation order across restarts.
func nextID() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastID)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastID, last, now) {
			return now
		}
	}
}

func rowKey(id int64) string {
	return fmt.Sprintf("%019d", id)
}

func idFromRowKey(rk string) (int64, error) {
	return strconv.ParseInt(strings.TrimLeft(rk, "0"), 10, 64)
}

func newTaskEntity(t domain.Task) taskEntity {
	return taskEntity{
		tableKeys:      tableKeys{PartitionKey: taskPartition, RowKey: rowKey(t.ID)},
		Title:          t.Title,
		Description:    t.Description,
		DueDate:        t.DueDate.String(),
		Status:         string(t.Status),
		CategoryID:     t.CategoryID,
		CategoryIDType: edmInt64,
		PriorityID:     t.PriorityID,
		PriorityIDType: edmInt64,
		CreatedAt:      t.CreatedAt.UnixNano(),
		CreatedAtType:  edmInt64,
		UpdatedAt:      t.UpdatedAt.UnixNano(),
		UpdatedAtType:  edmInt64,
	}
}

func (e taskEntity) toTask() (domain.Task, error) {
	id, err := idFromRowKey(e.RowKey)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task row key %q: %w", e.RowKey, err)
	}
	due, err := domain.ParseDate(e.DueDate)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %d due date: %w", id, err)
	}
	return domain.Task{
		ID:          id,
		Title:       e.Title,
		Description: e.Description,
		DueDate:     due,
		Status:      domain.Status(e.Status),
		CategoryID:  e.CategoryID,
		PriorityID:  e.PriorityID,
		CreatedAt:   time.Unix(0, e.CreatedAt).UTC(),
		UpdatedAt:   time.Unix(0, e.UpdatedAt).UTC(),
	}, nil
}

func decodeTask(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	return ent.toTask()
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}

// CreateTask inserts t under a fresh id.
func (s *TableStore) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	if t.Status == "" {
		t.Status = domain.StatusPending
	}
	t.ID = nextID()
	payload, err := json.Marshal(newTaskEntity(t))
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.tasks.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := s.resolve(ctx, []*domain.Task{&t}); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// GetTask loads a task by id; it returns nil when absent.
func (s *TableStore) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	resp, err := s.tasks.GetEntity(ctx, taskPartition, rowKey(id), nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	t, err := decodeTask(resp.Value)
	if err != nil {
		return nil, err
	}
	if err := s.resolve(ctx, []*domain.Task{&t}); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTasks scans the task partition and pages the matches in memory.
func (s *TableStore) ListTasks(ctx context.Context, q domain.ListQuery) ([]domain.Task, int, error) {
	all, err := s.queryTasks(ctx, "PartitionKey eq '"+taskPartition+"'")
	if err != nil {
		return nil, 0, err
	}
	page, total := pageTasks(all, q)
	ptrs := make([]*domain.Task, len(page))
	for i := range page {
		ptrs[i] = &page[i]
	}
	if err := s.resolve(ctx, ptrs); err != nil {
		return nil, 0, err
	}
	return page, total, nil
}

// UpdateTaskStatus merges the new status into the stored entity.
func (s *TableStore) UpdateTaskStatus(ctx context.Context, id int64, status domain.Status, updatedAt time.Time) error {
	payload, err := json.Marshal(taskStatusUpdate{
		tableKeys:     tableKeys{PartitionKey: taskPartition, RowKey: rowKey(id)},
		Status:        string(status),
		UpdatedAt:     updatedAt.UnixNano(),
		UpdatedAtType: edmInt64,
	})
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.tasks.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("task %d: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("update task %d: %w", id, err)
	}
	return nil
}

// TasksUpdatedSince returns tasks whose UpdatedAt is strictly after since.
func (s *TableStore) TasksUpdatedSince(ctx context.Context, since time.Time) ([]domain.Task, error) {
	tasks, err := s.queryTasks(ctx, updatedSinceFilter(since))
	if err != nil {
		return nil, err
	}
	ptrs := make([]*domain.Task, len(tasks))
	for i := range tasks {
		ptrs[i] = &tasks[i]
	}
	if err := s.resolve(ctx, ptrs); err != nil {
		return nil, err
	}
	return tasks, nil
}

func updatedSinceFilter(since time.Time) string {
	return fmt.Sprintf("PartitionKey eq '%s' and UpdatedAt gt %dL", taskPartition, since.UnixNano())
}

func (s *TableStore) queryTasks(ctx context.Context, filter string) ([]domain.Task, error) {
	pager := s.tasks.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTask(e)
			if err != nil {
				log.WithError(err).Warn("skipping undecodable task entity")
				continue
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// pageTasks filters by search, orders newest first and cuts one page.
func pageTasks(all []domain.Task, q domain.ListQuery) ([]domain.Task, int) {
	needle := strings.ToLower(q.Search)
	matched := make([]domain.Task, 0, len(all))
	for _, t := range all {
		if needle != "" &&
			!strings.Contains(strings.ToLower(t.Title), needle) &&
			!strings.Contains(strings.ToLower(t.Description), needle) {
			continue
		}
		matched = append(matched, t)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = domain.DefaultPerPage
	}
	total := len(matched)
	start := q.Offset()
	if start >= total {
		return []domain.Task{}, total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return matched[start:end], total
}

func (s *TableStore) resolve(ctx context.Context, tasks []*domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	cats, err := s.Categories(ctx)
	if err != nil {
		return err
	}
	pris, err := s.Priorities(ctx)
	if err != nil {
		return err
	}
	catByID := make(map[int64]domain.Category, len(cats))
	for _, c := range cats {
		catByID[c.ID] = c
	}
	priByID := make(map[int64]domain.Priority, len(pris))
	for _, p := range pris {
		priByID[p.ID] = p
	}
	for _, t := range tasks {
		if c, ok := catByID[t.CategoryID]; ok {
			t.Category = &c
		}
		if p, ok := priByID[t.PriorityID]; ok {
			t.Priority = &p
		}
	}
	return nil
}

// Categories lists all categories by id.
func (s *TableStore) Categories(ctx context.Context) ([]domain.Category, error) {
	filter := "PartitionKey eq '" + categoryPartition + "'"
	pager := s.categories.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	out := []domain.Category{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent categoryEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			id, err := idFromRowKey(ent.RowKey)
			if err != nil {
				return nil, err
			}
			out = append(out, domain.Category{ID: id, Name: ent.Name})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Priorities lists all priorities by id.
func (s *TableStore) Priorities(ctx context.Context) ([]domain.Priority, error) {
	filter := "PartitionKey eq '" + priorityPartition + "'"
	pager := s.priorities.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	out := []domain.Priority{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent priorityEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			id, err := idFromRowKey(ent.RowKey)
			if err != nil {
				return nil, err
			}
			out = append(out, domain.Priority{ID: id, Level: ent.Level})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetCategory returns nil when id is unknown.
func (s *TableStore) GetCategory(ctx context.Context, id int64) (*domain.Category, error) {
	resp, err := s.categories.GetEntity(ctx, categoryPartition, rowKey(id), nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var ent categoryEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	return &domain.Category{ID: id, Name: ent.Name}, nil
}

// GetPriority returns nil when id is unknown.
func (s *TableStore) GetPriority(ctx context.Context, id int64) (*domain.Priority, error) {
	resp, err := s.priorities.GetEntity(ctx, priorityPartition, rowKey(id), nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var ent priorityEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	return &domain.Priority{ID: id, Level: ent.Level}, nil
}

// AddCategory appends a category with the next sequential id.
func (s *TableStore) AddCategory(ctx context.Context, name string) (domain.Category, error) {
	existing, err := s.Categories(ctx)
	if err != nil {
		return domain.Category{}, err
	}
	c := domain.Category{ID: int64(len(existing)) + 1, Name: name}
	payload, err := json.Marshal(categoryEntity{tableKeys: tableKeys{PartitionKey: categoryPartition, RowKey: rowKey(c.ID)}, Name: name})
	if err != nil {
		return domain.Category{}, err
	}
	if _, err := s.categories.AddEntity(ctx, payload, nil); err != nil {
		return domain.Category{}, fmt.Errorf("insert category %q: %w", name, err)
	}
	return c, nil
}

// AddPriority appends a priority with the next sequential id.
func (s *TableStore) AddPriority(ctx context.Context, level string) (domain.Priority, error) {
	existing, err := s.Priorities(ctx)
	if err != nil {
		return domain.Priority{}, err
	}
	p := domain.Priority{ID: int64(len(existing)) + 1, Level: level}
	payload, err := json.Marshal(priorityEntity{tableKeys: tableKeys{PartitionKey: priorityPartition, RowKey: rowKey(p.ID)}, Level: level})
	if err != nil {
		return domain.Priority{}, err
	}
	if _, err := s.priorities.AddEntity(ctx, payload, nil); err != nil {
		return domain.Priority{}, fmt.Errorf("insert priority %q: %w", level, err)
	}
	return p, nil
}
