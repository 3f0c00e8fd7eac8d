package models

func ModelsToAutoMigrate() []interface{} {
	return []interface{}{
		&User{}, // Must be first - files reference it
		&File{},
		&FileGrant{},
		&FileLock{},
		&AccessToken{},
	}
}
