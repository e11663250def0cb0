package db

import (
	"time"

	"gorm.io/datatypes"
)

// SharedArticle maps news.shared_articles.
type SharedArticle struct {
	ArticleID       int64      `gorm:"column:article_id;primaryKey;autoIncrement"`
	ArticleUUID     string     `gorm:"column:article_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	NormalizedURL   string     `gorm:"column:normalized_url;type:text;not null;unique"`
	URL             string     `gorm:"column:url;type:text;not null"`
	Title           string     `gorm:"column:title;type:text;not null"`
	Body            string     `gorm:"column:body;type:text;not null"`
	Author          *string    `gorm:"column:author;type:text"`
	ImageURL        *string    `gorm:"column:image_url;type:text"`
	PublishedAt     *time.Time `gorm:"column:published_at;type:timestamptz"`
	WordCount       int        `gorm:"column:word_count;type:integer;not null;default:0"`
	SourceDomain    string     `gorm:"column:source_domain;type:text;not null;default:''"`
	ContentChecksum string     `gorm:"column:content_checksum;type:text;not null"`
	Language        string     `gorm:"column:language;type:text;not null;default:''"`
	FirstSeenAt     time.Time  `gorm:"column:first_seen_at;type:timestamptz;not null;default:now()"`
	LastSeenAt      time.Time  `gorm:"column:last_seen_at;type:timestamptz;not null;default:now()"`
	CreatedAt       time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (SharedArticle) TableName() string { return "news.shared_articles" }

// TenantArticleLink maps news.tenant_article_links.
type TenantArticleLink struct {
	LinkID                 int64                              `gorm:"column:link_id;primaryKey;autoIncrement"`
	LinkUUID               string                             `gorm:"column:link_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	ArticleID              int64                              `gorm:"column:article_id;type:bigint;not null;uniqueIndex:tenant_article_links_article_topic_key,priority:1"`
	TopicID                int64                              `gorm:"column:topic_id;type:bigint;not null;uniqueIndex:tenant_article_links_article_topic_key,priority:2"`
	SourceID               *int64                             `gorm:"column:source_id;type:bigint"`
	RegionalRelevanceScore int16                              `gorm:"column:regional_relevance_score;type:smallint;not null;default:0"`
	ContentQualityScore    int16                              `gorm:"column:content_quality_score;type:smallint;not null;default:0"`
	KeywordMatches         datatypes.JSONSlice[string]        `gorm:"column:keyword_matches;type:jsonb;not null;default:'[]'"`
	ProcessingStatus       string                             `gorm:"column:processing_status;type:text;not null;default:new"`
	ImportMetadata         datatypes.JSONType[ImportMetadata] `gorm:"column:import_metadata;type:jsonb;not null"`
	StatusChangedAt        time.Time                          `gorm:"column:status_changed_at;type:timestamptz;not null;default:now()"`
	CreatedAt              time.Time                          `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt              time.Time                          `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (TenantArticleLink) TableName() string { return "news.tenant_article_links" }

// Topic maps news.topics.
type Topic struct {
	TopicID            int64                          `gorm:"column:topic_id;primaryKey;autoIncrement"`
	TopicUUID          string                         `gorm:"column:topic_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Slug               string                         `gorm:"column:slug;type:text;not null;unique"`
	Name               string                         `gorm:"column:name;type:text;not null"`
	TopicType          string                         `gorm:"column:topic_type;type:text;not null;default:keyword"`
	Rules              datatypes.JSONType[TopicRules] `gorm:"column:rules;type:jsonb;not null"`
	FreshnessSensitive bool                           `gorm:"column:freshness_sensitive;type:boolean;not null;default:true"`
	Enabled            bool                           `gorm:"column:enabled;type:boolean;not null;default:true"`
	CreatedAt          time.Time                      `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt          time.Time                      `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Topic) TableName() string { return "news.topics" }

// Source maps news.sources.
type Source struct {
	SourceID            int64      `gorm:"column:source_id;primaryKey;autoIncrement"`
	SourceUUID          string     `gorm:"column:source_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Name                string     `gorm:"column:name;type:text;not null"`
	FeedURL             string     `gorm:"column:feed_url;type:text;not null;unique"`
	ScrapingMethod      string     `gorm:"column:scraping_method;type:text;not null"`
	AttemptCount        int        `gorm:"column:attempt_count;type:integer;not null;default:0"`
	SuccessCount        int        `gorm:"column:success_count;type:integer;not null;default:0"`
	SuccessRate         float64    `gorm:"column:success_rate;type:double precision;not null;default:0"`
	ConsecutiveFailures int        `gorm:"column:consecutive_failures;type:integer;not null;default:0"`
	IsActive            bool       `gorm:"column:is_active;type:boolean;not null;default:true"`
	IsCritical          bool       `gorm:"column:is_critical;type:boolean;not null;default:false"`
	LastScrapedAt       *time.Time `gorm:"column:last_scraped_at;type:timestamptz"`
	LastErrorCategory   *string    `gorm:"column:last_error_category;type:text"`
	DeactivatedAt       *time.Time `gorm:"column:deactivated_at;type:timestamptz"`
	CreatedAt           time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Source) TableName() string { return "news.sources" }

// TopicSource maps news.topic_sources.
type TopicSource struct {
	TopicID   int64     `gorm:"column:topic_id;type:bigint;primaryKey"`
	SourceID  int64     `gorm:"column:source_id;type:bigint;primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (TopicSource) TableName() string { return "news.topic_sources" }

// SourceHealthEvent maps news.source_health_events.
type SourceHealthEvent struct {
	EventID      int64                                  `gorm:"column:event_id;primaryKey;autoIncrement"`
	EventUUID    string                                 `gorm:"column:event_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	SourceID     int64                                  `gorm:"column:source_id;type:bigint;not null"`
	Action       string                                 `gorm:"column:action;type:text;not null"`
	MethodBefore string                                 `gorm:"column:method_before;type:text;not null"`
	MethodAfter  string                                 `gorm:"column:method_after;type:text;not null"`
	ActiveBefore bool                                   `gorm:"column:active_before;type:boolean;not null"`
	ActiveAfter  bool                                   `gorm:"column:active_after;type:boolean;not null"`
	SuccessRate  float64                                `gorm:"column:success_rate;type:double precision;not null"`
	Reason       datatypes.JSONType[HealthActionReason] `gorm:"column:reason;type:jsonb;not null"`
	CreatedAt    time.Time                              `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (SourceHealthEvent) TableName() string { return "news.source_health_events" }

// TenantStory maps news.tenant_stories.
type TenantStory struct {
	StoryID     int64      `gorm:"column:story_id;primaryKey;autoIncrement"`
	StoryUUID   string     `gorm:"column:story_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	TopicID     int64      `gorm:"column:topic_id;type:bigint;not null"`
	ArticleID   *int64     `gorm:"column:article_id;type:bigint"`
	Title       string     `gorm:"column:title;type:text;not null"`
	Status      string     `gorm:"column:status;type:text;not null;default:draft"`
	PublishedAt *time.Time `gorm:"column:published_at;type:timestamptz"`
	ArchivedAt  *time.Time `gorm:"column:archived_at;type:timestamptz"`
	CreatedAt   time.Time  `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (TenantStory) TableName() string { return "news.tenant_stories" }

// IngestBatch maps news.ingest_batches.
type IngestBatch struct {
	BatchID        int64      `gorm:"column:batch_id;primaryKey;autoIncrement"`
	BatchUUID      string     `gorm:"column:batch_uuid;type:uuid;not null;unique"`
	SourceID       int64      `gorm:"column:source_id;type:bigint;not null"`
	TopicID        *int64     `gorm:"column:topic_id;type:bigint"`
	ImportKind     string     `gorm:"column:import_kind;type:text;not null"`
	Status         string     `gorm:"column:status;type:text;not null;default:running"`
	ItemsReceived  int        `gorm:"column:items_received;type:integer;not null;default:0"`
	ItemsAdmitted  int        `gorm:"column:items_admitted;type:integer;not null;default:0"`
	ItemsSeen      int        `gorm:"column:items_seen;type:integer;not null;default:0"`
	ItemsRejected  int        `gorm:"column:items_rejected;type:integer;not null;default:0"`
	ItemsFailed    int        `gorm:"column:items_failed;type:integer;not null;default:0"`
	LinksWritten   int        `gorm:"column:links_written;type:integer;not null;default:0"`
	LinksProcessed int        `gorm:"column:links_processed;type:integer;not null;default:0"`
	ErrorMessage   *string    `gorm:"column:error_message;type:text"`
	StartedAt      time.Time  `gorm:"column:started_at;type:timestamptz;not null;default:now()"`
	FinishedAt     *time.Time `gorm:"column:finished_at;type:timestamptz"`
}

func (IngestBatch) TableName() string { return "news.ingest_batches" }

// KVEntry maps news.kv_entries.
type KVEntry struct {
	Key       string         `gorm:"column:key;type:text;primaryKey"`
	Value     datatypes.JSON `gorm:"column:value;type:jsonb;not null"`
	ExpiresAt *time.Time     `gorm:"column:expires_at;type:timestamptz"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (KVEntry) TableName() string { return "news.kv_entries" }

func autoMigrateModels() []any {
	return []any{
		&SharedArticle{},
		&Topic{},
		&Source{},
		&TopicSource{},
		&TenantArticleLink{},
		&SourceHealthEvent{},
		&TenantStory{},
		&IngestBatch{},
		&KVEntry{},
	}
}
