package trace

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Op 补丁操作类型
type Op string

const (
	OpAdd     Op = "add"
	OpReplace Op = "replace"
	OpRemove  Op = "remove"
)

// Patch 两个快照之间的一条结构化差异
// Path 为指向快照json的JSON Pointer
type Patch struct {
	Op    Op          `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

// MarshalJSON 除了remove以外都保留value字段，即使value为null
func (p Patch) MarshalJSON() ([]byte, error) {
	if p.Op == OpRemove {
		return json.Marshal(struct {
			Op   Op     `json:"op"`
			Path string `json:"path"`
		}{p.Op, p.Path})
	}
	return json.Marshal(struct {
		Op    Op          `json:"op"`
		Path  string      `json:"path"`
		Value interface{} `json:"value"`
	}{p.Op, p.Path, p.Value})
}

// Trace 每一个已记录步骤对应一组补丁
type Trace [][]Patch

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

// childPath 拼接JSON Pointer
func childPath(parent string, token string) string {
	return parent + "/" + pointerEscaper.Replace(token)
}

func indexPath(parent string, index int) string {
	return parent + "/" + strconv.Itoa(index)
}
