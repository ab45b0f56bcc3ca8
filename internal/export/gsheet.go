// Package export mirrors course gradebooks into Google Sheets.
package export

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/shrimpsizemoose/trekker/logger"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/shrimpsizemoose/tasksync/internal/app"
	"github.com/shrimpsizemoose/tasksync/internal/reconcile"
	"github.com/shrimpsizemoose/tasksync/internal/store"
)

const exportTimeout = 5 * time.Minute

// Sheet is the part of the Sheets API the exporter needs.
type Sheet interface {
	Read(ctx context.Context, sheetID, readRange string) ([][]interface{}, error)
	Write(ctx context.Context, sheetID string, data []*sheets.ValueRange) error
}

type googleSheet struct {
	svc *sheets.Service
}

func (g *googleSheet) Read(ctx context.Context, sheetID, readRange string) ([][]interface{}, error) {
	resp, err := g.svc.Spreadsheets.Values.Get(sheetID, readRange).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (g *googleSheet) Write(ctx context.Context, sheetID string, data []*sheets.ValueRange) error {
	_, err := g.svc.Spreadsheets.Values.BatchUpdate(sheetID, &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data:             data,
	}).Context(ctx).Do()
	return err
}

type GSheetExporter struct {
	config     *app.Config
	tasks      store.TaskStore
	grades     store.GradeStore
	reconciler *reconcile.Reconciler
	scheduler  *gocron.Scheduler
	now        func() time.Time
}

func NewGSheetExporter(service *app.Service) (*GSheetExporter, error) {
	ctx := context.Background()
	e := newExporter(service)

	for course, configs := range service.Config.GSheet {
		for i := range configs {
			cfg := configs[i]
			svc, err := sheets.NewService(ctx, option.WithCredentialsFile(cfg.CredentialsPath))
			if err != nil {
				return nil, fmt.Errorf("failed to create sheets service: %w", err)
			}
			if err := e.schedule(course, &cfg, &googleSheet{svc: svc}); err != nil {
				return nil, err
			}
		}
	}

	return e, nil
}

func newExporter(service *app.Service) *GSheetExporter {
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()
	return &GSheetExporter{
		config:     service.Config,
		tasks:      service.Store,
		grades:     service.Store,
		reconciler: service.Reconciler,
		scheduler:  scheduler,
		now:        time.Now,
	}
}

func (e *GSheetExporter) schedule(course string, cfg *app.GSheetConfig, sheet Sheet) error {
	_, err := e.scheduler.Cron(cfg.Schedule).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
		defer cancel()
		if err := e.Export(ctx, sheet, cfg); err != nil {
			logger.Error.Printf("Export of course %s to %s failed: %v", course, cfg.SheetID, err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule export of course %s: %w", course, err)
	}
	return nil
}

func (e *GSheetExporter) Start() {
	e.scheduler.StartAsync()
}

func (e *GSheetExporter) Stop() {
	e.scheduler.Stop()
}

// Export writes the grade of every listed user for every configured task,
// one column per task starting at B. Users without a grade get an empty cell.
func (e *GSheetExporter) Export(ctx context.Context, sheet Sheet, cfg *app.GSheetConfig) error {
	firstRow := cfg.FirstRow
	if firstRow <= 0 {
		firstRow = 1
	}

	rows, err := sheet.Read(ctx, cfg.SheetID, fmt.Sprintf("%s!%s", cfg.SheetName, cfg.UsersRange))
	if err != nil {
		return fmt.Errorf("failed to read users: %w", err)
	}

	var data []*sheets.ValueRange
	for col, taskID := range cfg.Tasks {
		if len(rows) == 0 {
			break
		}
		task, err := e.tasks.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task == nil {
			logger.Info.Printf("Task %d listed for export to %s does not exist, skipping", taskID, cfg.SheetID)
			continue
		}

		if cfg.Sync {
			if _, err := e.reconciler.Reconcile(ctx, task, reconcile.AllUsers); err != nil {
				logger.Error.Printf("Reconciling task %d before export failed: %v", taskID, err)
			}
		}

		grades, err := e.grades.ListGrades(ctx, taskID)
		if err != nil {
			return err
		}
		byUser := make(map[int64]float64, len(grades))
		for _, g := range grades {
			byUser[g.UserID] = g.RawGrade
		}

		values := make([][]interface{}, len(rows))
		for i, row := range rows {
			values[i] = []interface{}{""}
			if len(row) == 0 {
				continue
			}
			userID, err := strconv.ParseInt(strings.TrimSpace(fmt.Sprint(row[0])), 10, 64)
			if err != nil {
				continue
			}
			if grade, ok := byUser[userID]; ok {
				values[i][0] = grade
			}
		}

		column := columnName(col + 1)
		data = append(data, &sheets.ValueRange{
			Range:  fmt.Sprintf("%s!%s%d:%s%d", cfg.SheetName, column, firstRow, column, firstRow+len(rows)-1),
			Values: values,
		})
	}

	if cfg.TimestampRange != "" {
		stamp := fmt.Sprintf("UPD: %s", e.now().UTC().Format("2 January 15:04"))
		if len(e.config.EmojiVariants) > 0 {
			stamp += " " + e.config.EmojiVariants[rand.Intn(len(e.config.EmojiVariants))]
		}
		data = append(data, &sheets.ValueRange{
			Range:  fmt.Sprintf("%s!%s", cfg.SheetName, cfg.TimestampRange),
			Values: [][]interface{}{{stamp}},
		})
	}

	if len(data) == 0 {
		return nil
	}
	if err := sheet.Write(ctx, cfg.SheetID, data); err != nil {
		return fmt.Errorf("failed to update sheet: %w", err)
	}
	logger.Info.Printf("Exported %d tasks for %d users to %s", len(cfg.Tasks), len(rows), cfg.SheetID)
	return nil
}

// columnName maps 0 -> A, 25 -> Z, 26 -> AA.
func columnName(index int) string {
	name := ""
	for index >= 0 {
		name = string(rune('A'+index%26)) + name
		index = index/26 - 1
	}
	return name
}
