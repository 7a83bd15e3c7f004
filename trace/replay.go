package trace

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// Replay 将第0到第k步的补丁依次应用到空对象上，得到第k步的完整快照
func Replay(tr Trace, k int) ([]byte, error) {
	if k < 0 || k >= len(tr) {
		return nil, fmt.Errorf("step %d out of range [0, %d)", k, len(tr))
	}
	doc := []byte("{}")
	for i := 0; i <= k; i++ {
		data, err := json.Marshal(tr[i])
		if err != nil {
			return nil, fmt.Errorf("marshal patches of step %d: %w", i, err)
		}
		patch, err := jsonpatch.DecodePatch(data)
		if err != nil {
			return nil, fmt.Errorf("decode patches of step %d: %w", i, err)
		}
		if doc, err = patch.Apply(doc); err != nil {
			return nil, fmt.Errorf("apply patches of step %d: %w", i, err)
		}
	}
	return doc, nil
}

// ReplayInto 与Replay相同，并将结果解析到v中
func ReplayInto(tr Trace, k int, v interface{}) error {
	doc, err := Replay(tr, k)
	if err != nil {
		return err
	}
	return json.Unmarshal(doc, v)
}
