package trace

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

type kind int

const (
	kindScalar kind = iota
	kindObject
	kindArray
)

func kindOf(v interface{}) kind {
	switch v.(type) {
	case map[string]interface{}:
		return kindObject
	case []interface{}:
		return kindArray
	default:
		return kindScalar
	}
}

// ToTree 将任意值转换成通用的json树，map[string]interface{} / []interface{} / 标量
func ToTree(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	var tree interface{}
	if err = json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return tree, nil
}

// Diff 计算从old到new的补丁，old为nil时视为空对象
// 新增的子树会逐个节点展开：先add空容器，再add每个子节点，
// 因此 Diff(nil, s) 的长度等于s中除根以外的节点数。
// 删除的子树只产生一条remove，数组尾部从最大的下标开始删除。
func Diff(old, new interface{}) []Patch {
	if old == nil {
		old = map[string]interface{}{}
	}
	if new == nil {
		new = map[string]interface{}{}
	}
	patches := make([]Patch, 0)
	diffNode(&patches, "", old, new)
	return patches
}

func diffNode(patches *[]Patch, path string, old, new interface{}) {
	oldKind, newKind := kindOf(old), kindOf(new)
	if oldKind != newKind {
		*patches = append(*patches, Patch{Op: OpReplace, Path: path, Value: new})
		return
	}
	switch newKind {
	case kindObject:
		diffObject(patches, path, old.(map[string]interface{}), new.(map[string]interface{}))
	case kindArray:
		diffArray(patches, path, old.([]interface{}), new.([]interface{}))
	default:
		if !reflect.DeepEqual(old, new) {
			*patches = append(*patches, Patch{Op: OpReplace, Path: path, Value: new})
		}
	}
}

func diffObject(patches *[]Patch, path string, old, new map[string]interface{}) {
	keys := make([]string, 0, len(old)+len(new))
	for key := range old {
		keys = append(keys, key)
	}
	for key := range new {
		if _, ok := old[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		oldValue, inOld := old[key]
		newValue, inNew := new[key]
		p := childPath(path, key)
		switch {
		case inOld && !inNew:
			*patches = append(*patches, Patch{Op: OpRemove, Path: p})
		case !inOld && inNew:
			addNode(patches, p, newValue)
		default:
			diffNode(patches, p, oldValue, newValue)
		}
	}
}

func diffArray(patches *[]Patch, path string, old, new []interface{}) {
	common := len(old)
	if len(new) < common {
		common = len(new)
	}
	for i := 0; i < common; i++ {
		diffNode(patches, indexPath(path, i), old[i], new[i])
	}
	for i := len(old) - 1; i >= len(new); i-- {
		*patches = append(*patches, Patch{Op: OpRemove, Path: indexPath(path, i)})
	}
	for i := common; i < len(new); i++ {
		addNode(patches, indexPath(path, i), new[i])
	}
}

// addNode 新增一个节点，容器先以空值加入，再逐个加入子节点
func addNode(patches *[]Patch, path string, value interface{}) {
	switch v := value.(type) {
	case map[string]interface{}:
		*patches = append(*patches, Patch{Op: OpAdd, Path: path, Value: map[string]interface{}{}})
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			addNode(patches, childPath(path, key), v[key])
		}
	case []interface{}:
		*patches = append(*patches, Patch{Op: OpAdd, Path: path, Value: []interface{}{}})
		for i, item := range v {
			addNode(patches, indexPath(path, i), item)
		}
	default:
		*patches = append(*patches, Patch{Op: OpAdd, Path: path, Value: value})
	}
}

// CountNodes 统计除根以外的节点数
func CountNodes(tree interface{}) int {
	count := 0
	switch v := tree.(type) {
	case map[string]interface{}:
		for _, child := range v {
			count += 1 + CountNodes(child)
		}
	case []interface{}:
		for _, child := range v {
			count += 1 + CountNodes(child)
		}
	}
	return count
}
