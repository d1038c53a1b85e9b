package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitList(t *testing.T) {
	for in, want := range map[string][]string{
		"kafka-1:9092":                           {"kafka-1:9092"},
		"kafka-1:9092, kafka-2:9092;kafka-3:9092": {"kafka-1:9092", "kafka-2:9092", "kafka-3:9092"},
		"b a b":                                  {"b", "a"},
		"Broker broker":                          {"Broker", "broker"},
		"a\tb":                                   {"a", "b"},
	} {
		assert.Equal(t, want, SplitList(in), "input %q", in)
	}
	assert.Empty(t, SplitList(" , ; "))
}

func TestDistinct(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Distinct([]string{" a", "", "b ", "a"}))
	assert.Empty(t, Distinct(nil))
}
