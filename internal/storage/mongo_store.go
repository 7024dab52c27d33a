package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/RecoveryAshes/UXCrawl/internal/models"
	"github.com/RecoveryAshes/UXCrawl/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultMongoDatabase = "ux_evaluation"
	defaultMongoTimeout  = 10 * time.Second

	evaluationsCollection = "evaluations"
	screenshotsCollection = "screenshots"
	pageFilesBucket       = "page_files"

	// 单个文档上限16MB, 留出字段和元数据的余量
	maxInlinePageBytes = 15 << 20
)

// MongoStore 评估记录写入evaluations, 每个页面一条记录写入screenshots
// 截图加HTML超过文档上限的页面改存GridFS, 页面记录只保留文件ID
type MongoStore struct {
	client      *mongo.Client
	db          *mongo.Database
	evaluations *mongo.Collection
	screenshots *mongo.Collection
	timeout     time.Duration
	inlineLimit int
}

type evaluationDoc struct {
	ID          string             `bson:"_id"`
	URL         string             `bson:"url"`
	Domain      string             `bson:"domain"`
	Status      models.TaskStatus  `bson:"status"`
	Config      models.CrawlConfig `bson:"config"`
	Stats       models.TaskStats   `bson:"stats"`
	CreatedAt   time.Time          `bson:"created_at"`
	CompletedAt *time.Time         `bson:"completed_at,omitempty"`
	Error       string             `bson:"error,omitempty"`
	Failed      []failedPageDoc    `bson:"failed_pages"`
}

type failedPageDoc struct {
	URL   string `bson:"url"`
	Depth int    `bson:"depth"`
	Stage string `bson:"stage"`
	Error string `bson:"error"`
}

type screenshotDoc struct {
	EvaluationID string    `bson:"evaluation_id"`
	Index        int       `bson:"index"`
	URL          string    `bson:"url"`
	Title        string    `bson:"title"`
	Depth        int       `bson:"depth"`
	Screenshot   []byte    `bson:"screenshot,omitempty"`
	HTML         string    `bson:"html,omitempty"`
	CapturedAt   time.Time `bson:"captured_at"`

	ScreenshotFile primitive.ObjectID `bson:"screenshot_file_id,omitempty"`
	HTMLFile       primitive.ObjectID `bson:"html_file_id,omitempty"`
}

// NewMongoStore 连接MongoDB并创建索引
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("MongoDB URI不能为空")
	}
	if cfg.Database == "" {
		cfg.Database = defaultMongoDatabase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultMongoTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("连接MongoDB失败: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("MongoDB不可用: %w", err)
	}

	db := client.Database(cfg.Database)
	store := &MongoStore{
		client:      client,
		db:          db,
		evaluations: db.Collection(evaluationsCollection),
		screenshots: db.Collection(screenshotsCollection),
		timeout:     cfg.Timeout,
		inlineLimit: maxInlinePageBytes,
	}

	if err := store.createIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	utils.Infof("🗄️ 已连接MongoDB: %s", cfg.Database)
	return store, nil
}

func (s *MongoStore) createIndexes(ctx context.Context) error {
	_, err := s.screenshots.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "evaluation_id", Value: 1}, {Key: "index", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("创建索引失败: %w", err)
	}
	return nil
}

// Save 写入评估记录, 重复保存同一任务会替换其页面记录
func (s *MongoStore) Save(ctx context.Context, task *models.CrawlTask, result *models.CrawlResult, report *models.CrawlReport) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	eval := newEvaluationDoc(task, report)
	_, err := s.evaluations.ReplaceOne(ctx,
		bson.M{"_id": eval.ID},
		eval,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("保存评估记录失败: %w", err)
	}

	if _, err := s.screenshots.DeleteMany(ctx, bson.M{"evaluation_id": task.ID}); err != nil {
		return fmt.Errorf("清理旧页面记录失败: %w", err)
	}

	bucket, err := s.pageFiles(ctx)
	if err != nil {
		return err
	}
	if err := clearPageFiles(ctx, bucket, task.ID); err != nil {
		return err
	}

	docs, oversized := newScreenshotDocs(task.ID, result, s.inlineLimit)
	if len(docs) == 0 {
		return nil
	}
	for _, i := range oversized {
		if err := uploadPage(bucket, &docs[i], result.Pages[i]); err != nil {
			return err
		}
	}

	records := make([]interface{}, len(docs))
	for i := range docs {
		records[i] = docs[i]
	}
	if _, err := s.screenshots.InsertMany(ctx, records); err != nil {
		return fmt.Errorf("保存页面记录失败: %w", err)
	}

	utils.Infof("💾 已写入MongoDB: %s (%d 页, %d 页存入GridFS)", task.ID, len(docs), len(oversized))
	return nil
}

// pageFiles 每次保存新建bucket, 读写期限跟随ctx
func (s *MongoStore) pageFiles(ctx context.Context) (*gridfs.Bucket, error) {
	bucket, err := gridfs.NewBucket(s.db, options.GridFSBucket().SetName(pageFilesBucket))
	if err != nil {
		return nil, fmt.Errorf("打开GridFS失败: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = bucket.SetWriteDeadline(deadline)
		_ = bucket.SetReadDeadline(deadline)
	}
	return bucket, nil
}

func clearPageFiles(ctx context.Context, bucket *gridfs.Bucket, evaluationID string) error {
	cursor, err := bucket.Find(bson.M{"metadata.evaluation_id": evaluationID})
	if err != nil {
		return fmt.Errorf("查询旧页面文件失败: %w", err)
	}
	var files []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cursor.All(ctx, &files); err != nil {
		return fmt.Errorf("读取旧页面文件失败: %w", err)
	}
	for _, f := range files {
		if err := bucket.Delete(f.ID); err != nil {
			return fmt.Errorf("删除旧页面文件失败: %w", err)
		}
	}
	return nil
}

func uploadPage(bucket *gridfs.Bucket, doc *screenshotDoc, page models.PageSnapshot) error {
	upload := func(name string, data []byte) (primitive.ObjectID, error) {
		opts := options.GridFSUpload().SetMetadata(bson.M{
			"evaluation_id": doc.EvaluationID,
			"index":         doc.Index,
		})
		return bucket.UploadFromStream(name, bytes.NewReader(data), opts)
	}

	var err error
	if doc.ScreenshotFile, err = upload(fmt.Sprintf("%s/%03d.jpg", doc.EvaluationID, doc.Index), page.Screenshot); err != nil {
		return fmt.Errorf("上传截图到GridFS失败 [%s]: %w", page.URL, err)
	}
	if doc.HTMLFile, err = upload(fmt.Sprintf("%s/%03d.html", doc.EvaluationID, doc.Index), []byte(page.Markup)); err != nil {
		return fmt.Errorf("上传HTML到GridFS失败 [%s]: %w", page.URL, err)
	}
	return nil
}

// Close 断开连接
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func newEvaluationDoc(task *models.CrawlTask, report *models.CrawlReport) evaluationDoc {
	doc := evaluationDoc{
		ID:          task.ID,
		URL:         task.StartURL,
		Domain:      task.Domain,
		Status:      task.Status,
		Config:      task.Config,
		Stats:       task.Stats,
		CreatedAt:   task.CreatedAt,
		CompletedAt: task.CompletedAt,
		Error:       task.ErrorMessage,
		Failed:      []failedPageDoc{},
	}
	if report != nil {
		for _, f := range report.FailedPages {
			doc.Failed = append(doc.Failed, failedPageDoc{
				URL:   f.URL,
				Depth: f.Depth,
				Stage: f.Stage,
				Error: f.ErrorMsg,
			})
		}
	}
	return doc
}

// newScreenshotDocs 生成页面记录, 返回超过inlineLimit需要改存GridFS的下标
// 超限页面的记录不内嵌截图和HTML
func newScreenshotDocs(evaluationID string, result *models.CrawlResult, inlineLimit int) ([]screenshotDoc, []int) {
	if result == nil {
		return nil, nil
	}
	docs := make([]screenshotDoc, 0, len(result.Pages))
	var oversized []int
	for i, page := range result.Pages {
		doc := screenshotDoc{
			EvaluationID: evaluationID,
			Index:        i + 1,
			URL:          page.URL,
			Title:        page.Title,
			Depth:        page.Depth,
			CapturedAt:   page.CapturedAt,
		}
		if len(page.Screenshot)+len(page.Markup) > inlineLimit {
			oversized = append(oversized, i)
		} else {
			doc.Screenshot = page.Screenshot
			doc.HTML = page.Markup
		}
		docs = append(docs, doc)
	}
	return docs, oversized
}
