package flow_test

import (
	"context"
	"fmt"
	"os"

	"github.com/deepnoodle-ai/flow"
	"github.com/deepnoodle-ai/flow/activities"
)

func Example() {
	wf, err := flow.New(flow.Options{
		Name:      "order-approval",
		Variables: map[string]any{"item": "laptop"},
		Root: &flow.Node{
			ID:   "main",
			Type: "Sequence",
			Children: []*flow.Node{
				{ID: "announce", Type: "WriteLine", Inputs: map[string]any{"text": "requesting ${item}"}},
				{
					ID:   "decide",
					Type: flow.ForkActivityType,
					Children: []*flow.Node{
						{ID: "approve", Type: "Event", Inputs: map[string]any{"name": "approve", "store": "decision"}},
						{ID: "reject", Type: "Event", Inputs: map[string]any{"name": "reject", "store": "decision"}},
					},
				},
				{ID: "report", Type: "WriteLine", Inputs: map[string]any{"text": `${item} decided by ${decision["user"]}`}},
			},
		},
	})
	if err != nil {
		fmt.Println(err)
		return
	}

	engine, err := flow.NewEngine(flow.EngineOptions{
		Workflows:  []*flow.Workflow{wf},
		Activities: activities.All(os.Stdout),
		Store:      flow.NewMemoryStore(),
	})
	if err != nil {
		fmt.Println(err)
		return
	}

	ctx := context.Background()
	started, err := engine.Start(ctx, "order-approval", flow.StartOptions{})
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(started.Status, len(started.Bookmarks))

	finished, err := engine.Resume(ctx, started.InstanceID, "reject", map[string]any{"user": "sam"})
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(finished.Status, len(finished.Bookmarks))

	// Output:
	// requesting laptop
	// suspended 2
	// laptop decided by sam
	// finished 0
}
