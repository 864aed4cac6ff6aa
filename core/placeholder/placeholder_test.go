package placeholder

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var org = uuid.MustParse("3f8b2c1e-5d4a-4b6c-8e7f-9a0b1c2d3e4f")

type fakeResolver struct {
	ids   map[string]string
	calls [][]string
	err   error
}

func (f *fakeResolver) Resolve(_ context.Context, organizationID uuid.UUID, names []string) (map[string]string, error) {
	f.calls = append(f.calls, names)
	if f.err != nil {
		return nil, f.err
	}
	result := map[string]string{}
	for _, name := range names {
		if id, ok := f.ids[name]; ok {
			result[name] = id
		}
	}
	return result, nil
}

func TestRewriteWithoutPlaceholders(t *testing.T) {
	resolver := &fakeResolver{}
	rw := NewRewriter(resolver)

	for _, u := range []string{
		"/orders?select=id,name",
		"/orders?name=eq.%24%7Bnot%20a%20placeholder",
		"/rpc/x?q=$%7B%7D",
		"/orders?name=like.100%",
		"/orders?name=like.%zz%",
		"",
	} {
		got, err := rw.Rewrite(context.Background(), org, u)
		require.NoError(t, err)
		assert.Equal(t, u, got, "url without placeholders must be returned as is")
	}
	assert.Empty(t, resolver.calls, "resolver must not be called")
}

func TestRewriteRepeatedPlaceholder(t *testing.T) {
	resolver := &fakeResolver{ids: map[string]string{"orders": "t1"}}
	got, err := NewRewriter(resolver).Rewrite(context.Background(), org,
		"/${orders}?select=${orders}.id&${orders}.total=gt.5&order=${orders}.id")
	require.NoError(t, err)
	assert.Equal(t, "/t1?select=t1.id&t1.total=gt.5&order=t1.id", got)
	assert.Equal(t, [][]string{{"orders"}}, resolver.calls)
}

func TestRewriteTwoNames(t *testing.T) {
	resolver := &fakeResolver{ids: map[string]string{"a": "id1", "b": "id2"}}
	got, err := NewRewriter(resolver).Rewrite(context.Background(), org,
		"/${a}?select=x,${b}(y),${a}(z)&or=(q.eq.1,r.eq.2)&limit=10")
	require.NoError(t, err)
	assert.Equal(t, "/id1?select=x,id2(y),id1(z)&or=(q.eq.1,r.eq.2)&limit=10", got)
	assert.Equal(t, [][]string{{"a", "b"}}, resolver.calls, "expected one batch call")
}

func TestRewriteNamesThatAreSubstrings(t *testing.T) {
	resolver := &fakeResolver{ids: map[string]string{"a": "X", "ab": "Y", "b": "Z"}}
	got, err := NewRewriter(resolver).Rewrite(context.Background(), org, "/${ab}?select=${a},${b},${ab}")
	require.NoError(t, err)
	assert.Equal(t, "/Y?select=X,Z,Y", got)
}

func TestRewriteEncodedPlaceholders(t *testing.T) {
	resolver := &fakeResolver{ids: map[string]string{"order items": "t1"}}
	got, err := NewRewriter(resolver).Rewrite(context.Background(), org,
		"/%24%7Border%20items%7D?name=eq.a+b&note=100%25")
	require.NoError(t, err)
	assert.Equal(t, "/t1?name=eq.a+b&note=100%", got, "decoded exactly once and not encoded again")
}

func TestMayContainPlaceholder(t *testing.T) {
	assert.True(t, mayContainPlaceholder("/${a}"))
	assert.True(t, mayContainPlaceholder("/%24%7Ba%7D"))
	assert.True(t, mayContainPlaceholder("/%24%7ba%7d"))
	assert.True(t, mayContainPlaceholder("/$%7Ba}"))
	assert.False(t, mayContainPlaceholder("/orders?discount=eq.100%"))
}

func TestRewriteMalformedURL(t *testing.T) {
	resolver := &fakeResolver{}
	_, err := NewRewriter(resolver).Rewrite(context.Background(), org, "/${a}?x=%zz")
	assert.ErrorIs(t, err, ErrMalformedURL)
	assert.Empty(t, resolver.calls)
}

func TestRewriteResolverError(t *testing.T) {
	notFound := errors.New("Internal table not found: a,b")
	resolver := &fakeResolver{err: notFound}
	got, err := NewRewriter(resolver).Rewrite(context.Background(), org, "/${a}?select=${b}(id)")
	assert.ErrorIs(t, err, notFound)
	assert.Empty(t, got)
}

func TestRewriteIncompleteResolution(t *testing.T) {
	resolver := &fakeResolver{ids: map[string]string{"a": "id1"}}
	_, err := NewRewriter(resolver).Rewrite(context.Background(), org, "/${a}?select=${b}(id)")
	assert.Error(t, err, "a partial rewrite must never be returned")
}

func TestExtract(t *testing.T) {
	assert.Equal(t, []string{"b", "a", "a${c"}, Extract("/${b}/${a}?${b}=${a${c}}"))
	assert.Empty(t, Extract("/${}?x=$ {a}&y={a}"))
}
