package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openfroyo/decom/pkg/engine"
	"github.com/openfroyo/decom/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a journal.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: ":memory:",
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_GetRunDetail demonstrates reading back a journaled run.
func ExampleSQLiteStore_GetRunDetail() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	started := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	_ = store.CreateRun(ctx, &stores.Run{
		ID:        "7d0c6a1e-5b8f-4f7a-9c1d-2e3f4a5b6c7d",
		Profile:   "contoso-secure-client",
		State:     engine.StateDiscover,
		StartedAt: started,
	})
	_ = store.AppendAction(ctx, &stores.Action{
		RunID:      "7d0c6a1e-5b8f-4f7a-9c1d-2e3f4a5b6c7d",
		Phase:      engine.PhaseRemoveTargets,
		Kind:       engine.ActionFileTree,
		Subject:    `C:\Program Files\Contoso`,
		Status:     engine.ResultRemoved,
		Attempts:   2,
		RecordedAt: started.Add(time.Minute),
	})

	detail, err := store.GetRunDetail(ctx, "7d0c6a1e")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(detail.Run.Profile)
	for _, a := range detail.Actions {
		fmt.Printf("%s %s %s (%d attempts)\n", a.Phase, a.Status, a.Subject, a.Attempts)
	}
	// Output:
	// contoso-secure-client
	// remove_targets removed C:\Program Files\Contoso (2 attempts)
}
