package tools

import (
	"context"
	"fmt"
	"time"
)

// RegisterBuiltins installs the tools that ship with the binary.
func RegisterBuiltins(r *Registry) {
	r.Register(Func{
		ToolName: "current_time",
		Desc:     "Returns the current time, optionally in a given IANA timezone (arg: tz).",
		Fn:       currentTime,
	})
	r.Register(Func{
		ToolName: "echo",
		Desc:     "Returns its text argument unchanged (arg: text).",
		Fn:       echo,
	})
}

func currentTime(_ context.Context, args map[string]any) (any, error) {
	loc := time.UTC
	if tz, ok := args["tz"].(string); ok && tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", tz)
		}
	}
	now := time.Now().In(loc)
	return map[string]string{
		"time": now.Format(time.RFC3339),
		"zone": loc.String(),
	}, nil
}

func echo(_ context.Context, args map[string]any) (any, error) {
	text, ok := args["text"].(string)
	if !ok {
		return nil, fmt.Errorf("echo requires a string 'text' argument")
	}
	return map[string]string{"text": text}, nil
}
