package meta

import (
	"context"
	"strings"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/xiaoxuxiansheng/gotxrm/log"
	"github.com/xiaoxuxiansheng/gotxrm/sqlstruct"
)

// 表元数据缓存，缓存未命中时回源 information_schema
type Cache struct {
	opts   *Options
	db     *gorm.DB
	loader loader
	cache  *ristretto.Cache[string, *sqlstruct.TableMeta]
}

func NewCache(db *gorm.DB, opts ...Option) (*Cache, error) {
	c := Cache{
		opts: &Options{},
		db:   db,
	}
	for _, opt := range opts {
		opt(c.opts)
	}
	repair(c.opts)

	loader, err := loaderOf(c.opts.DBType)
	if err != nil {
		return nil, err
	}
	c.loader = loader

	cache, err := ristretto.NewCache(&ristretto.Config[string, *sqlstruct.TableMeta]{
		NumCounters: c.opts.MaxTables * 10,
		MaxCost:     c.opts.MaxTables,
		BufferItems: 64,
		// 每张表计 1 个单位
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	c.cache = cache
	return &c, nil
}

func (c *Cache) GetTableMeta(ctx context.Context, tableName string) (*sqlstruct.TableMeta, error) {
	schema, table := splitTableName(tableName)
	key := cacheKey(schema, table)
	if meta, ok := c.cache.Get(key); ok {
		return meta, nil
	}

	meta, err := c.load(ctx, schema, table)
	if err != nil {
		return nil, err
	}

	c.cache.SetWithTTL(key, meta, 1, c.opts.TTL)
	c.cache.Wait()
	return meta, nil
}

// 表结构变更后主动失效
func (c *Cache) Invalidate(tableName string) {
	schema, table := splitTableName(tableName)
	c.cache.Del(cacheKey(schema, table))
}

func (c *Cache) Close() {
	c.cache.Close()
}

func (c *Cache) load(ctx context.Context, schema, table string) (*sqlstruct.TableMeta, error) {
	if schema == "" {
		schema = c.opts.Schema
	}
	if schema == "" {
		current, err := c.loader.currentSchema(ctx, c.db)
		if err != nil {
			return nil, errors.Wrap(err, "query current schema")
		}
		schema = current
	}

	meta, err := c.loader.load(ctx, c.db, schema, table)
	if err != nil {
		return nil, errors.Wrapf(err, "load table meta of %s.%s", schema, table)
	}
	log.Infof("table meta of %s.%s loaded, columns: %d, primary keys: %v", schema, table, len(meta.Columns), meta.PrimaryKeys)
	return meta, nil
}

func splitTableName(tableName string) (string, string) {
	tableName = strings.ReplaceAll(strings.ReplaceAll(tableName, "`", ""), `"`, "")
	if idx := strings.LastIndex(tableName, "."); idx >= 0 {
		return tableName[:idx], tableName[idx+1:]
	}
	return "", tableName
}

func cacheKey(schema, table string) string {
	return strings.ToLower(schema + "." + table)
}
