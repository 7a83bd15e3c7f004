package utils

import (
	"github.com/emirpasic/gods/sets"
	"github.com/emirpasic/gods/sets/hashset"
	"github.com/emirpasic/gods/sets/linkedhashset"
)

// List2set 元素需要可以作为map的key
func List2set[T any](list []T) sets.Set {
	set := hashset.New()
	for _, value := range list {
		set.Add(value)
	}
	return set
}

// Distinct 去重，保持第一次出现的顺序
func Distinct[T any](list []T) []T {
	set := linkedhashset.New()
	for _, value := range list {
		set.Add(value)
	}
	result := make([]T, 0, set.Size())
	for _, value := range set.Values() {
		result = append(result, value.(T))
	}
	return result
}
