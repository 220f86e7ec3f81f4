package val

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeepMerge_NullDeletesLeaf(t *testing.T) {
	base := Object{"a": String("1"), "b": String("2")}
	patch := Object{"a": Null{}}

	got := DeepMerge(base, patch)

	assert.Equal(t, Object{"b": String("2")}, got)
}

func TestDeepMerge_AbsentKeepsPrior(t *testing.T) {
	base := Object{"a": String("1"), "b": String("2")}
	patch := Object{"b": String("3")}

	got := DeepMerge(base, patch)

	assert.Equal(t, Object{"a": String("1"), "b": String("3")}, got)
}

func TestDeepMerge_Recurses(t *testing.T) {
	base := Object{"addr": Object{"city": String("Lusaka"), "zip": String("10101")}}
	patch := Object{"addr": Object{"zip": Null{}, "street": String("Cairo Rd")}}

	got := DeepMerge(base, patch)

	assert.Equal(t, Object{"addr": Object{"city": String("Lusaka"), "street": String("Cairo Rd")}}, got)
}

func TestDeepMerge_ObjectOntoScalarDropsNulls(t *testing.T) {
	base := Object{"addr": String("unknown")}
	patch := Object{"addr": Object{"city": String("Ndola"), "zip": Null{}}}

	got := DeepMerge(base, patch)

	assert.Equal(t, Object{"addr": Object{"city": String("Ndola")}}, got)
}

func TestDeepMerge_DoesNotMutateInputs(t *testing.T) {
	base := Object{"addr": Object{"city": String("Lusaka")}}
	patch := Object{"addr": Object{"city": String("Kitwe")}}

	got := DeepMerge(base, patch)
	got["addr"].(Object)["city"] = String("changed")

	assert.Equal(t, String("Lusaka"), base["addr"].(Object)["city"])
	assert.Equal(t, String("Kitwe"), patch["addr"].(Object)["city"])
}

func TestDeepMerge_NilBase(t *testing.T) {
	got := DeepMerge(nil, Object{"a": Int(1), "b": Null{}})
	assert.Equal(t, Object{"a": Int(1)}, got)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(Object{"a": Array{Int(1)}}, Object{"a": Array{Int(1)}}))
	assert.False(t, Equal(Object{"a": Int(1)}, Object{"a": String("1")}))
	assert.True(t, Equal(Object(nil), Object{}))
	assert.True(t, Equal(Null{}, nil))
}
