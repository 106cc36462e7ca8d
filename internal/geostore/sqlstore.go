package geostore

import (
	"context"
	"database/sql"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"district-api/internal/district"
	"district-api/internal/geo"
	"district-api/internal/logger"
)

// 文档注释：SQL 几何存储（Postgres 与 SQLite 共用实现）
// 背景：生产部署使用 Postgres 连接池，单机/测试部署使用纯 Go SQLite 驱动，免去 CGO 与外部服务依赖。
// 约束：两种方言仅在占位符上有差异（$n / ?），构造时按驱动选择；表结构由 EnsureSchema 统一保证。
type SQLStore struct {
	db       *sql.DB
	rebind   func(string) string
	queryLog bool
}

// Dialect 占位符改写：SQLite 使用 ?，Postgres 保持 $n
func rebindQuestion(q string) string {
	out := make([]byte, 0, len(q))
	for i := 0; i < len(q); i++ {
		if q[i] == '$' {
			out = append(out, '?')
			for i+1 < len(q) && q[i+1] >= '0' && q[i+1] <= '9' {
				i++
			}
			continue
		}
		out = append(out, q[i])
	}
	return string(out)
}

func rebindNone(q string) string { return q }

// OpenPostgres：使用 DSN 打开 Postgres 连接并配置连接池参数
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	return &SQLStore{db: db, rebind: rebindNone}, nil
}

// OpenSQLite：打开本地 SQLite 数据库文件
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// modernc 驱动在并发写下需要串行化，读为主的场景单连接足够
	db.SetMaxOpenConns(1)
	return &SQLStore{db: db, rebind: rebindQuestion}, nil
}

// BuildPostgresDSNFromEnv：从环境变量拼接 DSN，各项均有默认值
func BuildPostgresDSNFromEnv() string {
	host := os.Getenv("PG_HOST")
	if host == "" {
		host = "localhost"
	}
	port := os.Getenv("PG_PORT")
	if port == "" {
		port = "5432"
	}
	user := os.Getenv("PG_USER")
	if user == "" {
		user = "postgres"
	}
	pass := os.Getenv("PG_PASSWORD")
	db := os.Getenv("PG_DB")
	if db == "" {
		db = "districts"
	}
	ssl := os.Getenv("PG_SSLMODE")
	if ssl == "" {
		ssl = "disable"
	}
	dsn := "postgres://" + user
	if pass != "" {
		dsn += ":" + pass
	}
	dsn += "@" + host + ":" + port + "/" + db + "?sslmode=" + ssl
	return dsn
}

// OpenFromEnv：按 GEOSTORE_DRIVER 选择实现（postgres 默认 / sqlite）
func OpenFromEnv() (*SQLStore, error) {
	driver := os.Getenv("GEOSTORE_DRIVER")
	if driver == "sqlite" {
		path := os.Getenv("SQLITE_PATH")
		if path == "" {
			path = "data/districts.db"
		}
		logger.L().Debug("geostore_env", "driver", "sqlite", "path", path)
		return OpenSQLite(path)
	}
	st, err := OpenPostgres(BuildPostgresDSNFromEnv())
	if err != nil {
		return nil, err
	}
	maxOpen := 50
	maxIdle := 25
	if v := os.Getenv("PG_MAX_OPEN_CONNS"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			maxOpen = n
		}
	}
	if v := os.Getenv("PG_MAX_IDLE_CONNS"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			maxIdle = n
		}
	}
	st.db.SetMaxOpenConns(maxOpen)
	st.db.SetMaxIdleConns(maxIdle)
	return st, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) DB() *sql.DB { return s.db }

const districtCols = `id, country, name, jurisdiction, dtype, geometry, min_lon, min_lat, max_lon, max_lat, source, authority, imported_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanDistrict(row rowScanner) (*district.District, error) {
	var d district.District
	var country string
	var jurisRaw, geomRaw []byte
	var dtype string
	var ts time.Time
	err := row.Scan(&d.ID, &country, &d.Name, &jurisRaw, &dtype, &geomRaw,
		&d.BBox.MinLon, &d.BBox.MinLat, &d.BBox.MaxLon, &d.BBox.MaxLat,
		&d.Provenance.Source, &d.Provenance.AuthorityLevel, &ts)
	if err != nil {
		return nil, err
	}
	d.Type = district.Type(dtype)
	d.Provenance.Timestamp = ts
	if d.Jurisdiction, err = decodeJurisdiction(jurisRaw); err != nil {
		return nil, err
	}
	if d.Geometry, err = decodeGeometry(geomRaw); err != nil {
		return nil, err
	}
	return &d, nil
}

// DistrictsByCountry：整国拉取，供空间索引批量装载
func (s *SQLStore) DistrictsByCountry(ctx context.Context, code string) ([]district.District, error) {
	q := s.rebind(`SELECT ` + districtCols + ` FROM _districts WHERE country=$1 ORDER BY id`)
	rows, err := s.db.QueryContext(ctx, q, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []district.District
	for rows.Next() {
		d, err := scanDistrict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// District：单条读取；未命中返回 (nil, false, nil) 而不是错误
func (s *SQLStore) District(ctx context.Context, id string) (*district.District, bool, error) {
	q := s.rebind(`SELECT ` + districtCols + ` FROM _districts WHERE id=$1 LIMIT 1`)
	d, err := scanDistrict(s.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}

// CountryExtents：国家聚合包围盒（索引路由的常驻小表）
func (s *SQLStore) CountryExtents(ctx context.Context) ([]CountryExtent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT country, MIN(min_lon), MIN(min_lat), MAX(max_lon), MAX(max_lat) FROM _districts GROUP BY country ORDER BY country`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CountryExtent
	for rows.Next() {
		var e CountryExtent
		if err := rows.Scan(&e.Code, &e.BBox.MinLon, &e.BBox.MinLat, &e.BBox.MaxLon, &e.BBox.MaxLat); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertDistrict：导入工具使用；查询路径不写该表
func (s *SQLStore) UpsertDistrict(ctx context.Context, d *district.District) error {
	p, ok := district.ParseID(d.ID)
	if !ok {
		return ErrBadID
	}
	geom, err := encodeGeometry(d.Geometry)
	if err != nil {
		return err
	}
	juris, err := encodeJurisdiction(d.Jurisdiction)
	if err != nil {
		return err
	}
	b := d.Geometry.BBox
	if len(d.Geometry.Polys) == 0 {
		b = geo.BBox{}
	}
	q := s.rebind(`INSERT INTO _districts(id, country, name, jurisdiction, dtype, geometry, min_lon, min_lat, max_lon, max_lat, source, authority, imported_at)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
        ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, jurisdiction=EXCLUDED.jurisdiction, dtype=EXCLUDED.dtype, geometry=EXCLUDED.geometry,
            min_lon=EXCLUDED.min_lon, min_lat=EXCLUDED.min_lat, max_lon=EXCLUDED.max_lon, max_lat=EXCLUDED.max_lat,
            source=EXCLUDED.source, authority=EXCLUDED.authority, imported_at=EXCLUDED.imported_at`)
	ts := d.Provenance.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, q, d.ID, p.Country, d.Name, string(juris), string(d.Type), string(geom),
		b.MinLon, b.MinLat, b.MaxLon, b.MaxLat, d.Provenance.Source, d.Provenance.AuthorityLevel, ts)
	return err
}
