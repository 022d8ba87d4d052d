package adapter_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/finwatch/finwatch/pkg/adapter"
	"github.com/m-mizutani/gt"
)

func TestFetchHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte("<html><body><h1>HMRC Update</h1><p>No changes today.</p></body></html>"))
		case "/binary":
			w.Header().Set("Content-Type", "application/pdf")
			w.Write([]byte("%PDF-1.4"))
		case "/missing":
			http.NotFound(w, r)
		default:
			w.Write([]byte("ok"))
		}
	}))
	defer srv.Close()

	f := adapter.NewFetcher()
	ctx := context.Background()

	t.Run("fetches html page", func(t *testing.T) {
		body := gt.R1(f.FetchHTML(ctx, srv.URL+"/page")).NoError(t)
		gt.S(t, string(body)).Contains("HMRC Update")
	})

	t.Run("rejects unsuitable content type", func(t *testing.T) {
		_, err := f.FetchHTML(ctx, srv.URL+"/binary")
		gt.Error(t, err)
		gt.S(t, err.Error()).Contains("unsuitable content type")
	})

	t.Run("rejects non-2xx status", func(t *testing.T) {
		_, err := f.FetchHTML(ctx, srv.URL+"/missing")
		gt.Error(t, err)
	})

	t.Run("honors robots disallow", func(t *testing.T) {
		_, err := f.FetchHTML(ctx, srv.URL+"/private/report")
		gt.Error(t, err)
		gt.S(t, err.Error()).Contains("robots.txt")
	})
}

func TestFetchHTMLRobotsUnavailable(t *testing.T) {
	// Only a successfully served robots.txt may restrict fetching.
	newServer := func(robotsStatus int) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/robots.txt" {
				http.Error(w, "boom", robotsStatus)
				return
			}
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html><body><p>fine</p></body></html>"))
		}))
	}

	t.Run("server error fails open", func(t *testing.T) {
		srv := newServer(http.StatusInternalServerError)
		defer srv.Close()

		f := adapter.NewFetcher()
		ctx := context.Background()
		body := gt.R1(f.FetchHTML(ctx, srv.URL+"/page")).NoError(t)
		gt.S(t, string(body)).Contains("fine")

		// Still open on the next fetch of the same host: the failed
		// lookup must not be cached as a blanket disallow.
		body = gt.R1(f.FetchHTML(ctx, srv.URL+"/other")).NoError(t)
		gt.S(t, string(body)).Contains("fine")
	})

	t.Run("missing robots.txt fails open", func(t *testing.T) {
		srv := newServer(http.StatusNotFound)
		defer srv.Close()

		f := adapter.NewFetcher()
		body := gt.R1(f.FetchHTML(context.Background(), srv.URL+"/page")).NoError(t)
		gt.S(t, string(body)).Contains("fine")
	})
}

func TestVisibleText(t *testing.T) {
	html := []byte(`<html><head><style>p{color:red}</style></head><body>
		<nav>Home | News</nav>
		<header>Site header</header>
		<script>var tracked = true;</script>
		<p>Personal   allowance is
		£12,570.</p>
		<footer>Contact us</footer>
	</body></html>`)

	text := gt.R1(adapter.VisibleText(html)).NoError(t)
	gt.S(t, text).Contains("Personal allowance is £12,570.")
	gt.S(t, text).NotContains("tracked")
	gt.S(t, text).NotContains("color:red")
	gt.S(t, text).NotContains("Site header")
	gt.S(t, text).NotContains("Contact us")
	gt.S(t, text).NotContains("Home | News")
}

func TestFetchReadable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Income Tax rates</title></head><body>
			<article><h1>Income Tax rates</h1>
			<p>The standard Personal Allowance is £12,570, which is the amount of
			income you do not have to pay tax on. It may be bigger if you claim
			Marriage Allowance or Blind Person's Allowance.</p></article>
		</body></html>`))
	}))
	defer srv.Close()

	f := adapter.NewFetcher()
	text := gt.R1(f.FetchReadable(context.Background(), srv.URL+"/income-tax-rates")).NoError(t)
	gt.S(t, text).Contains("Personal Allowance is £12,570")
}
