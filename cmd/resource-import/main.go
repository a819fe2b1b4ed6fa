// resource-import loads provider resources from an Excel workbook into
// the registry. Expected columns, first sheet, header row first:
// Provider ID | Name | Type | Location | Region | Total Capacity | Available Capacity
// Rows with a Resource ID column value update in place; rows without get
// a fresh ID.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"relief-ussd/internal/config"
	"relief-ussd/internal/database"
	"relief-ussd/internal/domain"
	"relief-ussd/internal/logger"
	"relief-ussd/internal/repository"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

func main() {
	file := flag.String("file", "", "path to the .xlsx workbook")
	sheet := flag.String("sheet", "", "sheet name (default: first sheet)")
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: resource-import -file resources.xlsx [-sheet Resources]")
		os.Exit(2)
	}

	cfg := config.Load()
	log, err := logger.NewLogger(cfg.Log.Level, "console", "resource-import")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("cannot connect to database", zap.Error(err))
	}
	defer database.Close(db)

	repo := repository.NewPostgresResourcesRepository(db)

	f, err := excelize.OpenFile(*file)
	if err != nil {
		log.Fatal("cannot open workbook", zap.String("file", *file), zap.Error(err))
	}
	defer f.Close()

	sheetName := *sheet
	if sheetName == "" {
		sheetName = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheetName)
	if err != nil {
		log.Fatal("cannot read sheet", zap.String("sheet", sheetName), zap.Error(err))
	}
	if len(rows) < 2 {
		log.Fatal("sheet has no data rows", zap.String("sheet", sheetName))
	}

	ctx := context.Background()
	imported, skipped := 0, 0
	for i, row := range rows[1:] {
		res, err := parseRow(row)
		if err != nil {
			log.Warn("skipping row", zap.Int("row", i+2), zap.Error(err))
			skipped++
			continue
		}
		if err := repo.UpsertResource(ctx, res); err != nil {
			log.Error("upsert failed", zap.Int("row", i+2), zap.String("name", res.Name), zap.Error(err))
			skipped++
			continue
		}
		imported++
	}

	log.Info("import finished",
		zap.String("sheet", sheetName),
		zap.Int("imported", imported),
		zap.Int("skipped", skipped),
	)
}

func parseRow(row []string) (*domain.Resource, error) {
	cell := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	providerID := cell(0)
	name := cell(1)
	resourceType := strings.ToLower(cell(2))
	location := cell(3)
	region := cell(4)

	if providerID == "" || name == "" || location == "" {
		return nil, fmt.Errorf("provider, name and location are required")
	}
	if !domain.ValidServiceType(resourceType) {
		return nil, fmt.Errorf("unknown resource type %q", cell(2))
	}

	total, err := strconv.Atoi(cell(5))
	if err != nil || total < 0 {
		return nil, fmt.Errorf("invalid total capacity %q", cell(5))
	}
	available := total
	if v := cell(6); v != "" {
		available, err = strconv.Atoi(v)
		if err != nil || available < 0 || available > total {
			return nil, fmt.Errorf("invalid available capacity %q", v)
		}
	}

	resourceID := cell(7)
	if resourceID == "" {
		resourceID = uuid.NewString()
	}

	return &domain.Resource{
		ResourceID:        resourceID,
		ProviderID:        providerID,
		Name:              name,
		Type:              resourceType,
		Location:          location,
		Region:            region,
		TotalCapacity:     total,
		AvailableCapacity: available,
	}, nil
}
