package tracker

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teapotnet/teapotnet/pkg/identifier"
)

func testID(t *testing.T) identifier.Identifier {
	t.Helper()
	digest := make([]byte, identifier.Size)
	for i := range digest {
		digest[i] = byte(i)
	}
	id, err := identifier.New(digest, "")
	require.NoError(t, err)
	return id
}

func TestPublishSucceedsIfAnyTrackerAccepts(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	var gotForm string
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.Form.Get("host")
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()

	c := New([]string{hostOf(bad.URL), hostOf(good.URL)}, 0)
	err := c.Publish(testID(t), PublishInfo{Host: "198.51.100.1", Port: 9000})
	require.NoError(t, err)
	require.Equal(t, "198.51.100.1", gotForm)
}

func TestPublishFailsIfEveryTrackerRejects(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer bad.Close()

	c := New([]string{hostOf(bad.URL)}, 0)
	err := c.Publish(testID(t), PublishInfo{Host: "198.51.100.1"})
	require.Error(t, err)
}

func TestQueryDecodesYAMLMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("laptop:\n  - 203.0.113.1:7000\n  - 203.0.113.2:7000\n"))
	}))
	defer srv.Close()

	c := New([]string{hostOf(srv.URL)}, 0)
	result, err := c.Query(testID(t), false)
	require.NoError(t, err)
	require.Len(t, result["laptop"], 2)
	require.ElementsMatch(t, []string{"203.0.113.1:7000", "203.0.113.2:7000"}, result.Addresses())
}

func TestQueryEmptyBodyMeansUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New([]string{hostOf(srv.URL)}, 0)
	result, err := c.Query(testID(t), false)
	require.NoError(t, err)
	require.Empty(t, result)
}

func TestQueryMergesAcrossTrackersFirstWins(t *testing.T) {
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x:\n  - 10.0.0.1:1\n"))
	}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x:\n  - 10.0.0.2:2\ny:\n  - 10.0.0.3:3\n"))
	}))
	defer second.Close()

	c := New([]string{hostOf(first.URL), hostOf(second.URL)}, 0)
	result, err := c.Query(testID(t), false)
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.1:1"}, result["x"])
	require.Equal(t, []string{"10.0.0.3:3"}, result["y"])
}

func hostOf(serverURL string) string {
	return serverURL[len("http://"):]
}
