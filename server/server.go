package main

/*
omega-server publishes the reports of Omega scans and collects the channel
summaries exported by `omega --output server` into a SQL store.
*/

import (
	"context"
	"flag"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-sql-driver/mysql"
	"github.com/golang/glog"

	"github.com/gwdetchar/omegascan/export"
	"github.com/gwdetchar/omegascan/omega"
)

var (
	listen   = flag.String("listen", ":8443", "")
	certFile = flag.String("certFile", "", "Path of the file containing the certificate (including the chained intermediates and root) for the TLS connection.")
	keyFile  = flag.String("keyFile", "", "Path of the file containing the key for the TLS connection.")
	root     = flag.String("root", "", "Directory holding scan output directories to publish under /scans (disabled if empty).")
	store    = flag.String("store", "sqlite", "Store for collected summaries (one of: sqlite, mysql)")

	// SQLite
	sqliteFile = flag.String("sqliteFile", "/tmp/omega.db", "File path of the sqlite DB file to use.")

	// MySQL
	mysqlServer       = flag.String("mysqlServer", "127.0.0.1:3306", "MySQL TCP server endpoint to connect to (IP/DNS and port).")
	mysqlUser         = flag.String("mysqlUser", "", "MySQL DB user.")
	mysqlPasswordFile = flag.String("mysqlPasswordFile", "", "Path to the file containing the password for the MySQL user.")
	mysqlDBName       = flag.String("mysqlDBName", "omega", "Name of the DB to use.")
)

const (
	summariesEndpoint = "/omega/v1/summaries"
	scansPath         = "/scans"

	defaultSummaryLimit = 1000
)

type OmegaServer struct {
	db        *export.SQL
	summaries chan<- omega.Summary
	started   time.Time
}

func (s *OmegaServer) router(root string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(s.started).Round(time.Second).String(),
		})
	})
	r.POST("/"+export.CollectEndpoint, s.collectHandler)
	r.GET(summariesEndpoint, s.summariesHandler)
	if root != "" {
		r.StaticFS(scansPath, gin.Dir(root, true))
		r.GET("/", func(c *gin.Context) {
			c.Redirect(http.StatusFound, scansPath+"/")
		})
	}
	return r
}

func (s *OmegaServer) collectHandler(c *gin.Context) {
	summaries := []omega.Summary{}
	if err := c.ShouldBindJSON(&summaries); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for _, summary := range summaries {
		if summary.Channel == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "summary without channel"})
			return
		}
	}
	for _, summary := range summaries {
		select {
		case s.summaries <- summary:
		case <-c.Request.Context().Done():
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request cancelled"})
			return
		}
	}
	c.JSON(http.StatusOK, export.CollectResponse{Status: "ok", SummaryCount: len(summaries)})
}

func (s *OmegaServer) summariesHandler(c *gin.Context) {
	q := export.Query{
		RunID: c.Query("run"),
		IFO:   c.Query("ifo"),
		Limit: defaultSummaryLimit,
	}
	for key, dst := range map[string]*float64{"start": &q.Start, "end": &q.End} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key + ": " + err.Error()})
			return
		}
		*dst = v
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit " + strconv.Quote(raw)})
			return
		}
		q.Limit = n
	}

	summaries, err := s.db.Summaries(c.Request.Context(), q)
	if err != nil {
		glog.Warningf("unable to query summaries: %s\n", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summaries)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()
		switch {
		case status >= 500:
			glog.Errorf("%s %s %d %s", c.Request.Method, path, status, time.Since(start))
		case status >= 400:
			glog.Warningf("%s %s %d %s", c.Request.Method, path, status, time.Since(start))
		default:
			glog.V(1).Infof("%s %s %d %s", c.Request.Method, path, status, time.Since(start))
		}
	}
}

func openStore() (*export.SQL, error) {
	switch strings.ToLower(*store) {
	case "sqlite":
		return export.Open(export.DriverSQLite, *sqliteFile)
	case "mysql":
		pass, err := os.ReadFile(*mysqlPasswordFile)
		if err != nil {
			glog.Exitf("unable to read MySQL password file %q: %s\n", *mysqlPasswordFile, err)
		}
		cfg := mysql.NewConfig()
		cfg.User = *mysqlUser
		cfg.Passwd = strings.TrimSpace(string(pass))
		cfg.Net = "tcp"
		cfg.Addr = *mysqlServer
		cfg.DBName = *mysqlDBName
		db, err := export.Open(export.DriverMySQL, cfg.FormatDSN())
		if err != nil {
			return nil, err
		}
		db.DB.SetConnMaxLifetime(3 * time.Minute)
		db.DB.SetMaxOpenConns(10)
		db.DB.SetMaxIdleConns(10)
		return db, nil
	}
	glog.Exitf("%q is not a supported store, pick one of: sqlite, mysql", *store)
	return nil, nil
}

func main() {
	ctx := context.Background()
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "false")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	// Parse flags globally.
	flag.Parse()

	db, err := openStore()
	if err != nil {
		glog.Exitf("unable to open %s store: %s", *store, err)
	}
	defer db.Close()

	// Store summaries.
	summaries := make(chan omega.Summary, 1000)
	go func() {
		if err := db.Write(ctx, summaries); err != nil {
			glog.Fatal(err)
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	s := &OmegaServer{
		db:        db,
		summaries: summaries,
		started:   time.Now(),
	}
	server := &http.Server{
		Addr:    *listen,
		Handler: s.router(*root),
	}
	if *certFile != "" || *keyFile != "" {
		glog.Fatal(server.ListenAndServeTLS(*certFile, *keyFile))
	} else {
		glog.Infoln("Resorting to serving HTTP because there was no certificate and key defined.")
		glog.Fatal(server.ListenAndServe())
	}

	glog.Flush()
}
