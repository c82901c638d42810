package action

import (
	"context"
	"fmt"

	"github.com/arnavsurve/stepwright/pkg/automation"
)

// Handler executes one kind of interaction.
type Handler func(ctx context.Context, e *Executor, ia *automation.InteractionAction) error

// handlers maps an interaction kind, as named in automation files, to its
// handler. Each handler file registers itself from init.
var handlers = map[string]Handler{}

func registerHandler(kind string, h Handler) {
	handlers[kind] = h
}

func handlerFor(ia *automation.InteractionAction) (string, Handler, error) {
	kind := ia.Kind()
	h, ok := handlers[kind]
	if !ok {
		return kind, nil, fmt.Errorf("no handler registered for interaction %q", kind)
	}
	return kind, h, nil
}
