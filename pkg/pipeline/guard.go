package pipeline

import (
	"context"
	"fmt"
)

// ResultKey returns the state key a guarded stage writes its result to.
func ResultKey(name string) string { return name + "_result" }

// ErrorKey is the state key a guarded stage writes its failure message to.
const ErrorKey = "error"

// Guard turns a stage whose failure should not abort the run into one that
// always succeeds. On success the stage's update is merged as usual. On
// error, or panic, the update is {"<name>_result": nil, "error": msg}.
func Guard(name string, fn StageFunc) Stage {
	if fn == nil {
		return Stage{Name: name}
	}
	return Stage{
		Name: name,
		Exec: func(ctx context.Context, state State) (out State, err error) {
			defer func() {
				if r := recover(); r != nil {
					out = failed(name, fmt.Sprintf("panic: %v", r))
					err = nil
				}
			}()
			update, err := fn(ctx, state)
			if err != nil {
				return failed(name, err.Error()), nil
			}
			return update, nil
		},
	}
}

func failed(name, msg string) State {
	return State{ResultKey(name): nil, ErrorKey: msg}
}
