//go:build integration

package repository_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"workflow-service/internal/model"
	"workflow-service/internal/repository"
	"workflow-service/pkg/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpg "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newPostgresStore(t *testing.T) *repository.Store {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("crm_workflow"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(gormpg.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	return repository.New(db)
}

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()
	store := newPostgresStore(t)

	t.Run("workflow definition round trips through jsonb", func(t *testing.T) {
		wf := &model.Workflow{
			TenantID:    1,
			Name:        "Verify small leads",
			TriggerType: "LEAD_CREATED",
			Conditions:  model.Conditions{{Field: "amount", Operator: model.OpLt, Value: 1000.0}},
			Actions: model.ActionList{
				model.CreateApprovalAction{Title: "Review", AssigneeRole: "manager"},
				model.UpdateFieldAction{Field: "status", Value: model.LeadStatusVerified},
			},
		}
		require.NoError(t, store.CreateWorkflow(ctx, wf))

		got, err := store.GetWorkflow(ctx, 1, wf.ID)
		require.NoError(t, err)
		assert.Equal(t, wf.Conditions, got.Conditions)
		assert.Equal(t, wf.Actions, got.Actions)
	})

	t.Run("only one concurrent decision wins", func(t *testing.T) {
		a := &model.Approval{TenantID: 1, EntityType: model.EntityLead, EntityID: 1, RequestedBy: 1, AssigneeRole: "manager"}
		require.NoError(t, store.CreateApproval(ctx, a))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(actor uint) {
				defer wg.Done()
				ok, err := store.DecideApproval(ctx, 1, a.ID, model.ApprovalApproved, actor, "", time.Now())
				if err == nil && ok {
					wins.Add(1)
				}
			}(uint(i + 1))
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("only one worker claims an email", func(t *testing.T) {
		item := &model.EmailQueueItem{TenantID: 1, To: "a@acme.test", Subject: "Hi"}
		require.NoError(t, store.CreateEmail(ctx, item))

		var claims atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				claimer := *item
				ok, err := store.ClaimEmail(ctx, &claimer, time.Minute)
				if err == nil && ok {
					claims.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), claims.Load())
	})

	t.Run("advisory lock serializes holders of the same key", func(t *testing.T) {
		var order []int
		var mu sync.Mutex
		held := make(chan struct{})

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Transaction(ctx, func(tx *repository.Store) error {
				if err := tx.LockKey(ctx, "workflow:1:LEAD:1"); err != nil {
					return err
				}
				close(held)
				time.Sleep(200 * time.Millisecond)
				mu.Lock()
				order = append(order, 1)
				mu.Unlock()
				return nil
			})
		}()

		<-held
		err := store.Transaction(ctx, func(tx *repository.Store) error {
			if err := tx.LockKey(ctx, "workflow:1:LEAD:1"); err != nil {
				return err
			}
			mu.Lock()
			order = append(order, 2)
			mu.Unlock()
			return nil
		})
		wg.Wait()

		require.NoError(t, err)
		assert.Equal(t, []int{1, 2}, order)
	})
}
