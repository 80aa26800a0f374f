// SPDX-FileCopyrightText: 2024 EmmaBot maintainers
// SPDX-License-Identifier: MIT

// Webserver for QID reconciliation artifacts.
//
// Serves the latest published artifacts of the qidsync bot, such as
// https://qidsync.toolforge.org/download/qid-claims.csv.gz, and keeps
// a local cache that is refreshed from object storage every 30 seconds.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var downloadCount = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "qidsync_downloads_total",
		Help: "Number of artifact downloads, by file.",
	},
	[]string{"file"},
)

func init() {
	prometheus.MustRegister(downloadCount)
}

func main() {
	port := flag.Int("port", 0, "port for serving HTTP requests")
	storagekey := flag.String("storage-key", "keys/storage-key", "path to key with storage access credentials")
	workdir := flag.String("workdir", "webserver-workdir", "path for caching artifacts on local disk")
	flag.Parse()

	if *port == 0 {
		*port, _ = strconv.Atoi(os.Getenv("PORT"))
	}

	storage, err := NewStorage(*storagekey, *workdir)
	if err != nil {
		log.Fatal(err)
	}

	// A failed initial load is not fatal; Watch keeps retrying.
	if err := storage.Reload(context.Background()); err != nil {
		log.Println(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go storage.Watch(ctx)

	server := &Webserver{storage: storage}
	http.HandleFunc("/", server.HandleMain)
	http.HandleFunc("/robots.txt", server.HandleRobotsTxt)
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/download/", server.HandleDownload)

	log.Printf("Listening for HTTP requests on port %d", *port)
	http.ListenAndServe(":"+strconv.Itoa(*port), nil)
	cancel()
}

type Webserver struct {
	storage *Storage
}

func (ws *Webserver) HandleMain(w http.ResponseWriter, r *http.Request) {
	header := w.Header()
	header.Set("Content-Type", "text/html")
	header.Set("Access-Control-Allow-Origin", "*")
	w.Write([]byte(`<html>
<head>
<title>QID Sync</title>
<style>
body { font-family:sans-serif; margin-left:2em; margin-right:2em; }
h1 { font-size:x-large; }
</style>
</head>
<body>
<h1>QID Sync</h1>

<p>Data files from the bot that reconciles wiki pages with the
Wikidata items they reference. Rebuilt by the latest completed
bot run.</p>

<ul>
<li><a href="download/qid-claims.csv.gz">qid-claims.csv.gz</a>:
every Wikidata item referenced on the wiki, with the page that
references it. One line per claim.</li>
<li><a href="download/qid-duplicates.csv.gz">qid-duplicates.csv.gz</a>:
items referenced by more than one page, with all claiming pages.</li>
<li><a href="download/registry.br">registry.br</a>:
Brotli-compressed snapshot of the full reference registry, for
replaying a run without re-crawling the wiki.</li>
<li><a href="download/chains.bz2">chains.bz2</a>:
redirect chains, cycles and broken redirects found in the most
recent dump scan.</li>
<li><a href="download/stats.json">stats.json</a>:
counters from the latest run.</li>
</ul>

<p>The file formats may still change. If you would like to use
these files in production, please let us know on the bot's talk
page.</p>
</body>
</html>`))
}

func (ws *Webserver) HandleRobotsTxt(w http.ResponseWriter, r *http.Request) {
	header := w.Header()
	header.Set("Content-Type", "text/plain")
	header.Set("Access-Control-Allow-Origin", "*")
	w.Write([]byte("User-Agent: *\nAllow: /\n"))
}

const allowedMethods = "GET, HEAD, OPTIONS"

func (ws *Webserver) HandleDownload(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, "/download/") {
		http.NotFound(w, r)
		return
	}
	filename := strings.TrimPrefix(r.URL.Path, "/download/")

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		// Handled below.

	case http.MethodOptions:
		c, err := ws.storage.Retrieve(filename)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		c.Close()
		header := w.Header()
		header.Set("Allow", allowedMethods)
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Methods", allowedMethods)
		header.Set("Access-Control-Allow-Headers", "ETag, If-Match, If-None-Match, If-Modified-Since, If-Range, Range")
		header.Set("Access-Control-Expose-Headers", "ETag")
		header.Set("Access-Control-Max-Age", "86400")
		w.WriteHeader(http.StatusNoContent)
		return

	default:
		w.Header().Set("Allow", allowedMethods)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	c, err := ws.storage.Retrieve(filename)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer c.Close()

	// Counted after Retrieve succeeds, so the label set stays bounded
	// by the artifact names actually in storage.
	downloadCount.WithLabelValues(filename).Inc()

	header := w.Header()
	header.Set("Content-Type", c.ContentType)
	header.Set("ETag", fmt.Sprintf(`"%s"`, c.ETag))
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Expose-Headers", "ETag")

	// ServeContent handles If-None-Match, If-Modified-Since and Range.
	http.ServeContent(w, r, "", c.LastModified, c)
}
