package geostore

import (
	"context"
	"time"
)

// SnapshotRow：_snapshots 表一行；valid_until 为空表示仍然有效
type SnapshotRow struct {
	CID        string
	MerkleRoot string
	ValidFrom  time.Time
	ValidUntil *time.Time
	CensusYear int
	IsCurrent  bool
}

// Snapshots：按生效时间升序拉取全部快照元数据
func (s *SQLStore) Snapshots(ctx context.Context) ([]SnapshotRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT cid, merkle_root, valid_from, valid_until, census_year, is_current FROM _snapshots ORDER BY valid_from`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SnapshotRow
	for rows.Next() {
		var r SnapshotRow
		if err := rows.Scan(&r.CID, &r.MerkleRoot, &r.ValidFrom, &r.ValidUntil, &r.CensusYear, &r.IsCurrent); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertSnapshot：发布工具使用；轮换时旧的当前快照需先落定 valid_until
func (s *SQLStore) UpsertSnapshot(ctx context.Context, r SnapshotRow) error {
	q := s.rebind(`INSERT INTO _snapshots(cid, merkle_root, valid_from, valid_until, census_year, is_current)
        VALUES($1,$2,$3,$4,$5,$6)
        ON CONFLICT (cid) DO UPDATE SET merkle_root=EXCLUDED.merkle_root, valid_from=EXCLUDED.valid_from,
            valid_until=EXCLUDED.valid_until, census_year=EXCLUDED.census_year, is_current=EXCLUDED.is_current`)
	_, err := s.db.ExecContext(ctx, q, r.CID, r.MerkleRoot, r.ValidFrom, r.ValidUntil, r.CensusYear, r.IsCurrent)
	return err
}
