package files

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/evsync/internal/event"
	"github.com/roach88/evsync/internal/val"
)

func file(path string) val.Object {
	return val.Obj(val.P("type", val.String("file")), val.P("path", val.String(path)))
}

func TestRefs(t *testing.T) {
	obj := val.Obj(
		val.P("child.photo", file("/files/b.png")),
		val.P("documents", val.Array{file("/files/a.pdf"), file("/files/b.png"), val.String("x")}),
		val.P("nested", val.Obj(val.P("inner", file("/files/c.jpg")))),
		val.P("not.file", val.Obj(val.P("type", val.String("image")), val.P("path", val.String("/nope")))),
	)
	assert.Equal(t, []string{"/files/a.pdf", "/files/b.png", "/files/c.jpg"}, Refs(obj))
	assert.Empty(t, Refs(nil))
}

func TestDocumentRefs(t *testing.T) {
	doc := event.Document{Actions: []event.Action{
		{Declaration: val.Obj(val.P("a", file("/1")))},
		{Annotation: val.Obj(val.P("b", file("/2")))},
	}}
	assert.Equal(t, []string{"/1", "/2"}, DocumentRefs(doc))
}

func TestNop(t *testing.T) {
	var c Cacher = Nop{}
	assert.NoError(t, c.CacheDocument(context.Background(), event.Document{}))
	assert.NoError(t, c.CacheIndex(context.Background(), event.Index{}))
}
