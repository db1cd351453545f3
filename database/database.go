// Package database - Handles all interaction with ArangoDB
package database

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/connection"
	"github.com/cenkalti/backoff"
	"github.com/ortelius/cve-mirror/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Collection names
const (
	CVECollection      = "cve"
	MetadataCollection = "metadata"
)

var (
	// ErrUnavailable is returned by every call on a store that never connected.
	ErrUnavailable = errors.New("document store unavailable")

	// ErrPartialWrite reports that only some documents of a batch were written.
	ErrPartialWrite = errors.New("partial batch write")
)

// DBConnection is the structure that defined the database engine and collections
type DBConnection struct {
	Collections map[string]arangodb.Collection
	Database    arangodb.Database
}

// Define a struct to hold the index definition
type indexConfig struct {
	Collection string
	IdxName    string
	IdxField   string
	Unique     bool
}

// InitLogger sets up the Zap Logger to log to the console in a human readable format
func InitLogger() *zap.Logger {
	prodConfig := zap.NewProductionConfig()
	prodConfig.Encoding = "console"
	prodConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	prodConfig.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	logger, _ := prodConfig.Build()
	return logger
}

func dbConnectionConfig(endpoint connection.Endpoint, dbuser string, dbpass string) connection.HttpConfiguration {
	return connection.HttpConfiguration{
		Authentication: connection.NewBasicAuth(dbuser, dbpass),
		Endpoint:       endpoint,
		ContentType:    connection.ApplicationJSON,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, // #nosec G402
			},
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 90 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// InitializeDatabase connects to the db engine and creates the database, collections and indexes.
// Connection attempts back off exponentially until cfg.ConnectTimeout has elapsed.
func InitializeDatabase(ctx context.Context, cfg config.Database, logger *zap.Logger) (DBConnection, error) {
	const initialInterval = 2 * time.Second
	const maxInterval = 30 * time.Second

	var client arangodb.Client

	//
	// Database connection with backoff retry
	//

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialInterval
	bo.MaxInterval = maxInterval
	bo.MaxElapsedTime = cfg.ConnectTimeout

	err := backoff.RetryNotify(func() error {
		logger.Info("Attempting to connect to ArangoDB", zap.String("url", cfg.URL))
		endpoint := connection.NewRoundRobinEndpoints([]string{cfg.URL})
		conn := connection.NewHttpConnection(dbConnectionConfig(endpoint, cfg.User, cfg.Password))

		client = arangodb.NewClient(conn)

		versionInfo, err := client.Version(ctx)
		if err != nil {
			return err
		}

		logger.Sugar().Infof("Database has version '%s' and license '%s'", versionInfo.Version, versionInfo.License)
		return nil

	}, bo, func(err error, next time.Duration) {
		logger.Warn("Retrying connection to ArangoDB", zap.Error(err), zap.Duration("next", next))
	})
	if err != nil {
		return DBConnection{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	//
	// Database creation
	//

	var db arangodb.Database
	exists := false
	dblist, _ := client.Databases(ctx)

	for _, dbinfo := range dblist {
		if dbinfo.Name() == cfg.Name {
			exists = true
			break
		}
	}

	if exists {
		var options arangodb.GetDatabaseOptions
		if db, err = client.GetDatabase(ctx, cfg.Name, &options); err != nil {
			return DBConnection{}, fmt.Errorf("failed to get database: %w", err)
		}
	} else {
		if db, err = client.CreateDatabase(ctx, cfg.Name, nil); err != nil {
			return DBConnection{}, fmt.Errorf("failed to create database: %w", err)
		}
	}

	//
	// Collection creation for document storage
	//

	collections := make(map[string]arangodb.Collection)
	collectionNames := []string{CVECollection, MetadataCollection}

	for _, collectionName := range collectionNames {
		var col arangodb.Collection

		exists, _ = db.CollectionExists(ctx, collectionName)
		if exists {
			var options arangodb.GetCollectionOptions
			if col, err = db.GetCollection(ctx, collectionName, &options); err != nil {
				return DBConnection{}, fmt.Errorf("failed to use collection %s: %w", collectionName, err)
			}
		} else {
			if col, err = db.CreateCollectionV2(ctx, collectionName, nil); err != nil {
				return DBConnection{}, fmt.Errorf("failed to create collection %s: %w", collectionName, err)
			}
		}

		collections[collectionName] = col
	}

	//
	// Index creation for document collections
	//

	idxList := []indexConfig{
		{Collection: CVECollection, IdxName: "cve_id_unique", IdxField: "cve_id", Unique: true},
		{Collection: CVECollection, IdxName: "cve_last_modified", IdxField: "last_modified"},
		{Collection: CVECollection, IdxName: "cve_v2_base_score", IdxField: "cvss.v2_base_score"},
		{Collection: CVECollection, IdxName: "cve_v3_base_score", IdxField: "cvss.v3_base_score"},
		{Collection: CVECollection, IdxName: "cve_base_score", IdxField: "cvss.base_score"},
	}

	for _, idx := range idxList {
		if err := ensureIndex(ctx, collections[idx.Collection], idx, logger); err != nil {
			return DBConnection{}, err
		}
	}

	logger.Info("Database initialization complete", zap.String("database", cfg.Name))

	return DBConnection{
		Database:    db,
		Collections: collections,
	}, nil
}

func ensureIndex(ctx context.Context, col arangodb.Collection, idx indexConfig, logger *zap.Logger) error {
	if indexes, err := col.Indexes(ctx); err == nil {
		for _, index := range indexes {
			if idx.IdxName == index.Name {
				return nil
			}
		}
	}

	unique := idx.Unique
	sparse := false
	indexOptions := arangodb.CreatePersistentIndexOptions{
		Unique: &unique,
		Sparse: &sparse,
		Name:   idx.IdxName,
	}

	if _, _, err := col.EnsurePersistentIndex(ctx, []string{idx.IdxField}, &indexOptions); err != nil {
		return fmt.Errorf("error creating index %s: %w", idx.IdxName, err)
	}

	logger.Sugar().Infof("Created index: %s on %s.%s", idx.IdxName, idx.Collection, idx.IdxField)
	return nil
}
