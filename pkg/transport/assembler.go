package transport

import (
	"encoding/json"
	"sort"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// deltaAssembler rebuilds tool calls from incremental-delta streams, where each
// record carries fragments keyed by call index.
type deltaAssembler struct {
	calls map[int64]*partialCall
}

type partialCall struct {
	id   string
	name strings.Builder
	args strings.Builder
}

func newDeltaAssembler() *deltaAssembler {
	return &deltaAssembler{calls: make(map[int64]*partialCall)}
}

// add merges one fragment. Empty fragments are ignored.
func (a *deltaAssembler) add(index int64, id, name, args string) {
	pc, ok := a.calls[index]
	if !ok {
		pc = &partialCall{}
		a.calls[index] = pc
	}
	if id != "" && pc.id == "" {
		pc.id = id
	}
	pc.name.WriteString(name)
	pc.args.WriteString(args)
}

// toolCalls returns the assembled calls ordered by index. Calls without a name
// are dropped; missing ids are generated.
func (a *deltaAssembler) toolCalls() []ToolCall {
	if len(a.calls) == 0 {
		return nil
	}
	indexes := make([]int64, 0, len(a.calls))
	for idx := range a.calls {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })

	out := make([]ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		pc := a.calls[idx]
		name := pc.name.String()
		if name == "" {
			continue
		}
		args := strings.TrimSpace(pc.args.String())
		if args == "" {
			args = "{}"
		}
		id := pc.id
		if id == "" {
			id = newCallID()
		}
		out = append(out, ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)})
	}
	return out
}

func newCallID() string {
	id, err := gonanoid.New(16)
	if err != nil {
		return "call_fallback"
	}
	return "call_" + id
}
