package placeholder

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%032x", n)
	}
}

func TestToken(t *testing.T) {
	id := NewID()
	assert.Len(t, id, 32)
	tok := Token(id)
	assert.Equal(t, "<||img_placeholder_"+id+"||>", tok)

	spans := FindTokens("a " + tok + " b")
	require.Len(t, spans, 1)
	assert.Equal(t, id, spans[0].ID)
	assert.Equal(t, 2, spans[0].Start)
	assert.Equal(t, 2+len(tok), spans[0].End)
}

func TestExtractRestoreRoundTrip(t *testing.T) {
	inputs := []string{
		`<p>Intro <img src="images/a.png" alt="A" width="10"/> tail</p>`,
		"# Title\n\n![cover](img/cover.jpg)\n\nText ![x](b.png \"caption\") end",
		`<IMG SRC='x.gif'><p>two</p><img src="y.svg" />`,
		"no assets at all",
	}

	for i, input := range inputs {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			codec := NewCodec()
			plain, assets := codec.Extract(input)
			assert.NotContains(t, plain, "<img")
			assert.Len(t, FindTokens(plain), len(assets))

			restored, report := codec.Restore(plain, assets)
			assert.True(t, report.Empty())
			assert.Equal(t, input, restored)
		})
	}
}

func TestExtractParsesAttributes(t *testing.T) {
	codec := NewCodec(WithIDGenerator(sequentialIDs()))
	plain, assets := codec.Extract(`x<img alt="Fig 1" src="f.png" height="20"/>y`)

	id := fmt.Sprintf("%032x", 1)
	assert.Equal(t, "x"+Token(id)+"y", plain)
	rec := assets[id]
	require.NotNil(t, rec)
	assert.Equal(t, KindHTMLImage, rec.Kind)
	assert.Equal(t, "f.png", rec.Src)
	assert.Equal(t, "Fig 1", rec.Alt)
	assert.Equal(t, "20", rec.Height)
}

func TestRestoreRemovesHallucinatedTokens(t *testing.T) {
	codec := NewCodec()
	plain, assets := codec.Extract(`a <img src="a.png"/> b`)

	fake := NewID()
	transformed := plain + " " + Token(fake) + " end"

	out, report := codec.Restore(transformed, assets)
	assert.NotContains(t, out, fake)
	assert.Equal(t, []string{fake}, report.Removed)
	assert.Contains(t, out, `<img src="a.png"/>`)
}

func TestRestoreMissingAsset(t *testing.T) {
	codec := NewCodec(WithResolver(func(src string) ([]byte, string, error) {
		return nil, "", errors.New("not found")
	}))
	plain, assets := codec.Extract(`<img src="gone.png"/>`)
	ids := IDs(plain)
	require.Len(t, ids, 1)

	out, report := codec.Restore(plain, assets)
	assert.Equal(t, MissingMarker(ids[0]), out)
	assert.Equal(t, ids, report.Missing)
	assert.Contains(t, report.String(), "missing")

	// 资源表中不存在同样视为缺失
	out, report = codec.Restore(plain, AssetMap{})
	assert.Equal(t, MissingMarker(ids[0]), out)
	assert.Len(t, report.Missing, 1)
}

func TestSanitizeMultiset(t *testing.T) {
	codec := NewCodec()
	source := "a " + Token("00000000000000000000000000000001") + " b"

	dup := source + " " + Token("00000000000000000000000000000001")
	out, removed := codec.Sanitize(dup, source)
	assert.Equal(t, source+" ", out)
	assert.Len(t, removed, 1)

	out, removed = codec.Sanitize("only text", source)
	assert.Equal(t, "only text", out)
	assert.Empty(t, removed)
}

func TestAdoptAndRenderers(t *testing.T) {
	id := NewID()
	assets := AssetMap{id: {ID: id, Kind: KindEmbedded, Src: "media/image1.png", Alt: "chart", Data: []byte{1}}}
	codec := NewCodec()
	codec.Adopt(assets)
	assert.True(t, codec.Issued(id))

	text := "see " + Token(id)
	out, _ := codec.RestoreWith(text, assets, RenderMarkdown)
	assert.Equal(t, "see ![chart](media/image1.png)", out)

	out, _ = codec.RestoreWith(text, assets, RenderText)
	assert.Equal(t, "see [image: chart]", out)

	out, _ = codec.Restore(text, assets)
	assert.True(t, strings.HasPrefix(out, `see <img src="media/image1.png" alt="chart"`))
}

func TestAssetMapSubset(t *testing.T) {
	m := AssetMap{"a": {ID: "a"}, "b": {ID: "b"}, "c": {ID: "c"}}
	sub := m.Subset([]string{"c", "a", "zz"})
	assert.Equal(t, []string{"a", "c"}, sub.IDs())

	sub.Merge(AssetMap{"d": {ID: "d"}})
	assert.Len(t, sub, 3)
}
