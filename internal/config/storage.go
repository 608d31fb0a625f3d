package config

// Storage selects where the state snapshot lives. Type names the
// authoritative backend; Mirror.Type optionally names a second backend that
// receives best-effort copies of every save.
type Storage struct {
	Type   string        `mapstructure:"type"` // file, sqlite, badger or s3
	File   FileStorage   `mapstructure:"file"`
	SQLite SQLiteStorage `mapstructure:"sqlite"`
	Badger BadgerStorage `mapstructure:"badger"`
	S3     S3Storage     `mapstructure:"s3"`
	Mirror MirrorStorage `mapstructure:"mirror"`
}

type FileStorage struct {
	Path string `mapstructure:"path"`
}

type SQLiteStorage struct {
	Path string `mapstructure:"path"`
}

type BadgerStorage struct {
	Path       string `mapstructure:"path"`
	SyncWrites bool   `mapstructure:"sync_writes"`
}

type S3Storage struct {
	Bucket   string `mapstructure:"bucket"`
	Key      string `mapstructure:"key"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"` // non-empty for MinIO and friends
}

type MirrorStorage struct {
	Type string `mapstructure:"type"`
}
