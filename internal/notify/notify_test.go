package notify

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failing struct{}

func (failing) Notify(string, string) error { return errors.New("no display") }

func TestWriterNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewWriterNotifier(&buf)

	require.NoError(t, n.Notify("Password received", "GitHub"))
	require.NoError(t, n.Notify("Done", ""))
	assert.Equal(t, "🔔 Password received: GitHub\n🔔 Done\n", buf.String())
}

func TestMulti(t *testing.T) {
	rec := &Recorder{}
	err := Multi{failing{}, rec}.Notify("title", "body")

	assert.Error(t, err)
	assert.Equal(t, []Entry{{Title: "title", Body: "body"}}, rec.Entries())
}
