package ocr

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecognizeJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "script.png", header.Filename)
		assert.Equal(t, "PNGDATA", string(data))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text": "Warfarin 5 mg od"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, 0)
	text, err := client.Recognize(context.Background(), "script.png", strings.NewReader("PNGDATA"))
	require.NoError(t, err)
	assert.Equal(t, "Warfarin 5 mg od", text)
}

func TestRecognizePlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("Ibuprofen 400 mg tds"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, 0)
	text, err := client.Recognize(context.Background(), "scan.jpg", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "Ibuprofen 400 mg tds", text)
}

func TestRecognizeErrors(t *testing.T) {
	t.Run("NotConfigured", func(t *testing.T) {
		client := NewClient("", time.Second, 0)
		assert.False(t, client.Enabled())

		_, err := client.Recognize(context.Background(), "a.png", strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrNotConfigured)
	})

	t.Run("ServerError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		client := NewClient(srv.URL, time.Second, 0)
		_, err := client.Recognize(context.Background(), "a.png", strings.NewReader("x"))
		assert.Error(t, err)
	})
}
