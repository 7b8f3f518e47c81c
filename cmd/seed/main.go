package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/jordanlanch/outreach/config"
	"github.com/jordanlanch/outreach/pkg/database"
	"github.com/jordanlanch/outreach/pkg/enrollment"
	"github.com/jordanlanch/outreach/pkg/logger"
	"github.com/jordanlanch/outreach/pkg/models"
	"github.com/jordanlanch/outreach/pkg/store"
	"github.com/jordanlanch/outreach/pkg/testdata"
)

func main() {
	contacts := flag.Int("contacts", 50, "Number of contacts to generate")
	seed := flag.Int64("seed", 42, "Faker seed; equal seeds produce equal data")
	stage := flag.String("trigger-stage", "Contacted", "Trigger stage of the generated sequence")
	flag.Parse()

	cfg := config.Load()
	db, err := database.Open(cfg.DBDriver, cfg.DatabaseURL, database.DefaultPoolConfig(cfg.DBDriver), nil)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	st := store.New(db)
	if err := st.Migrate(ctx); err != nil {
		log.Fatalf("❌ Failed to migrate database: %v", err)
	}

	now := time.Now().UTC()
	gen := testdata.New(*seed)

	// two variants of one intro so the A/B report has something to compare
	var intro *models.EmailTemplate
	for i := 0; i < 2; i++ {
		tpl := gen.Template("intro", now)
		if err := st.CreateTemplate(ctx, tpl); err != nil {
			log.Fatalf("❌ Failed to create template: %v", err)
		}
		if intro == nil {
			intro = tpl
		}
	}
	log.Printf("✅ Created 2 template variants (group: intro)")

	seq := gen.Sequence(*stage, intro.ID, now)
	if err := st.CreateSequence(ctx, seq); err != nil {
		log.Fatalf("❌ Failed to create sequence: %v", err)
	}
	log.Printf("✅ Created sequence %q triggered by %q", seq.Name, seq.TriggerStage)

	engine := enrollment.NewEngine(st, st, enrollment.WithLogger(logger.Nop()))

	enrolled := 0
	for _, c := range gen.Contacts(testdata.DefaultContactConfig(*contacts, now)) {
		if _, _, err := st.UpsertContact(ctx, c); err != nil {
			log.Fatalf("❌ Failed to store contact: %v", err)
		}
		res, err := engine.HandleStageChange(ctx, models.StageChange{ContactID: c.ID, NewStage: c.PipelineStage})
		if err != nil {
			log.Printf("⚠️  Stage change failed for %s: %v", c.ID, err)
			continue
		}
		enrolled += len(res.Enrolled)
	}

	log.Printf("🎉 Seeded %d contacts, %d enrolled", *contacts, enrolled)
}
