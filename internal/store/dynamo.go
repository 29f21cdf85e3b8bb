package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

// Dynamo is a DynamoDB-backed Client using a single table with a
// composite PK/SK key:
//
//	send records  PK=CAMPAIGN#<campaignID>  SK=SEND#<recipientID>
//	recipients    PK=RECIPIENT              SK=<normalized email>
//	import jobs   PK=IMPORTJOB              SK=<job id>
//
// Uniqueness is enforced with conditional puts on the key, which is
// what makes reservation safe across workers on separate machines.
type Dynamo struct {
	client    *dynamodb.Client
	tableName string
}

// DynamoConfig holds connection settings for the DynamoDB backend.
type DynamoConfig struct {
	Table     string
	Region    string
	Profile   string
	AccessKey string
	SecretKey string
}

// NewDynamo creates a DynamoDB-backed store. Static credentials take
// precedence over a shared config profile; with neither set the
// default AWS credential chain applies.
func NewDynamo(ctx context.Context, cfg DynamoConfig) (*Dynamo, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	switch {
	case cfg.AccessKey != "" && cfg.SecretKey != "":
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	case cfg.Profile != "":
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &Dynamo{
		client:    dynamodb.NewFromConfig(awsCfg),
		tableName: cfg.Table,
	}, nil
}

const (
	pkCampaignPrefix = "CAMPAIGN#"
	skSendPrefix     = "SEND#"
	pkRecipient      = "RECIPIENT"
	pkImportJob      = "IMPORTJOB"
)

// sendRecordItem is the DynamoDB representation of a SendRecord.
type sendRecordItem struct {
	PK                string `dynamodbav:"PK"`
	SK                string `dynamodbav:"SK"`
	RecipientEmail    string `dynamodbav:"RecipientEmail"`
	Status            string `dynamodbav:"Status"`
	ReservedAt        string `dynamodbav:"ReservedAt"`
	SentAt            string `dynamodbav:"SentAt,omitempty"`
	ProviderMessageID string `dynamodbav:"ProviderMessageID,omitempty"`
	ErrorMessage      string `dynamodbav:"ErrorMessage,omitempty"`
	RetryCount        int    `dynamodbav:"RetryCount"`
}

func toSendRecordItem(rec *domain.SendRecord) sendRecordItem {
	item := sendRecordItem{
		PK:                pkCampaignPrefix + rec.CampaignID,
		SK:                skSendPrefix + rec.RecipientID,
		RecipientEmail:    rec.RecipientEmail,
		Status:            string(rec.Status),
		ReservedAt:        rec.ReservedAt.UTC().Format(time.RFC3339),
		ProviderMessageID: rec.ProviderMessageID,
		ErrorMessage:      rec.ErrorMessage,
		RetryCount:        rec.RetryCount,
	}
	if rec.SentAt != nil {
		item.SentAt = rec.SentAt.UTC().Format(time.RFC3339)
	}
	return item
}

func (item sendRecordItem) toDomain() domain.SendRecord {
	campaignID := strings.TrimPrefix(item.PK, pkCampaignPrefix)
	recipientID := strings.TrimPrefix(item.SK, skSendPrefix)
	rec := domain.SendRecord{
		ID:                domain.SendRecordKey(campaignID, recipientID),
		CampaignID:        campaignID,
		RecipientID:       recipientID,
		RecipientEmail:    item.RecipientEmail,
		Status:            domain.SendStatus(item.Status),
		ProviderMessageID: item.ProviderMessageID,
		ErrorMessage:      item.ErrorMessage,
		RetryCount:        item.RetryCount,
	}
	if t, err := time.Parse(time.RFC3339, item.ReservedAt); err == nil {
		rec.ReservedAt = t
	}
	if item.SentAt != "" {
		if t, err := time.Parse(time.RFC3339, item.SentAt); err == nil {
			rec.SentAt = &t
		}
	}
	return rec
}

func sendRecordKeyAttrs(id string) (map[string]types.AttributeValue, error) {
	campaignID, recipientID, ok := domain.SplitSendRecordKey(id)
	if !ok {
		return nil, fmt.Errorf("malformed send record id %q", id)
	}
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pkCampaignPrefix + campaignID},
		"SK": &types.AttributeValueMemberS{Value: skSendPrefix + recipientID},
	}, nil
}

func (d *Dynamo) InsertSendRecord(ctx context.Context, rec *domain.SendRecord) error {
	av, err := attributevalue.MarshalMap(toSendRecordItem(rec))
	if err != nil {
		return fmt.Errorf("marshaling send record: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if isConditionalCheckFailed(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("putting send record: %w", err)
	}
	return nil
}

func (d *Dynamo) GetSendRecord(ctx context.Context, id string) (*domain.SendRecord, error) {
	key, err := sendRecordKeyAttrs(id)
	if err != nil {
		return nil, err
	}

	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key:       key,
	})
	if err != nil {
		return nil, fmt.Errorf("getting send record: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var item sendRecordItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling send record: %w", err)
	}
	rec := item.toDomain()
	return &rec, nil
}

// querySendRecords pages through the campaign partition applying the
// given filter expression, accumulating every match.
func (d *Dynamo) querySendRecords(ctx context.Context, campaignID, filterExpr string, exprVals map[string]types.AttributeValue, exprNames map[string]string) ([]domain.SendRecord, error) {
	exprVals[":pk"] = &types.AttributeValueMemberS{Value: pkCampaignPrefix + campaignID}
	exprVals[":skprefix"] = &types.AttributeValueMemberS{Value: skSendPrefix}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(d.tableName),
		KeyConditionExpression:    aws.String("PK = :pk AND begins_with(SK, :skprefix)"),
		ExpressionAttributeValues: exprVals,
	}
	if filterExpr != "" {
		input.FilterExpression = aws.String(filterExpr)
	}
	if len(exprNames) > 0 {
		input.ExpressionAttributeNames = exprNames
	}

	var records []domain.SendRecord
	for {
		out, err := d.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("querying send records: %w", err)
		}
		for _, raw := range out.Items {
			var item sendRecordItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("unmarshaling send record: %w", err)
			}
			records = append(records, item.toDomain())
		}
		if out.LastEvaluatedKey == nil {
			return records, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (d *Dynamo) FindSendRecords(ctx context.Context, q SendRecordQuery) (*SendRecordPage, error) {
	exprVals := map[string]types.AttributeValue{}
	exprNames := map[string]string{}
	var filters []string

	if q.Status != "" {
		filters = append(filters, "#st = :status")
		exprNames["#st"] = "Status"
		exprVals[":status"] = &types.AttributeValueMemberS{Value: string(q.Status)}
	}
	if len(q.Emails) > 0 {
		placeholders := make([]string, len(q.Emails))
		for i, e := range q.Emails {
			ph := fmt.Sprintf(":email%d", i)
			placeholders[i] = ph
			exprVals[ph] = &types.AttributeValueMemberS{Value: domain.NormalizeEmail(e)}
		}
		filters = append(filters, fmt.Sprintf("RecipientEmail IN (%s)", strings.Join(placeholders, ", ")))
	}

	records, err := d.querySendRecords(ctx, q.CampaignID, strings.Join(filters, " AND "), exprVals, exprNames)
	if err != nil {
		return nil, err
	}

	page := &SendRecordPage{Total: len(records)}
	start := q.Offset
	if start > len(records) {
		start = len(records)
	}
	end := len(records)
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}
	page.Records = records[start:end]
	return page, nil
}

func (d *Dynamo) CountSendRecords(ctx context.Context, campaignID string, status domain.SendStatus) (int, error) {
	exprVals := map[string]types.AttributeValue{
		":pk":       &types.AttributeValueMemberS{Value: pkCampaignPrefix + campaignID},
		":skprefix": &types.AttributeValueMemberS{Value: skSendPrefix},
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(d.tableName),
		KeyConditionExpression:    aws.String("PK = :pk AND begins_with(SK, :skprefix)"),
		ExpressionAttributeValues: exprVals,
		Select:                    types.SelectCount,
	}
	if status != "" {
		input.FilterExpression = aws.String("#st = :status")
		input.ExpressionAttributeNames = map[string]string{"#st": "Status"}
		exprVals[":status"] = &types.AttributeValueMemberS{Value: string(status)}
	}

	total := 0
	for {
		out, err := d.client.Query(ctx, input)
		if err != nil {
			return 0, fmt.Errorf("counting send records: %w", err)
		}
		total += int(out.Count)
		if out.LastEvaluatedKey == nil {
			return total, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (d *Dynamo) UpdateSendRecord(ctx context.Context, id string, u SendRecordUpdate) (*domain.SendRecord, error) {
	key, err := sendRecordKeyAttrs(id)
	if err != nil {
		return nil, err
	}

	var sets []string
	exprVals := map[string]types.AttributeValue{}
	exprNames := map[string]string{}

	if u.Status != nil {
		sets = append(sets, "#st = :status")
		exprNames["#st"] = "Status"
		exprVals[":status"] = &types.AttributeValueMemberS{Value: string(*u.Status)}
	}
	if u.SentAt != nil {
		sets = append(sets, "SentAt = :sentAt")
		exprVals[":sentAt"] = &types.AttributeValueMemberS{Value: u.SentAt.UTC().Format(time.RFC3339)}
	}
	if u.ProviderMessageID != nil {
		sets = append(sets, "ProviderMessageID = :msgID")
		exprVals[":msgID"] = &types.AttributeValueMemberS{Value: *u.ProviderMessageID}
	}
	if u.ErrorMessage != nil {
		sets = append(sets, "ErrorMessage = :errMsg")
		exprVals[":errMsg"] = &types.AttributeValueMemberS{Value: *u.ErrorMessage}
	}
	if u.RetryCount != nil {
		sets = append(sets, "RetryCount = :retries")
		exprVals[":retries"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", *u.RetryCount)}
	}
	if len(sets) == 0 {
		return d.GetSendRecord(ctx, id)
	}

	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.tableName),
		Key:                       key,
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: exprVals,
		ExpressionAttributeNames:  exprNames,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if isConditionalCheckFailed(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("updating send record: %w", err)
	}

	var item sendRecordItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling updated send record: %w", err)
	}
	rec := item.toDomain()
	return &rec, nil
}

// recipientItem is the DynamoDB representation of an imported recipient.
type recipientItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	ID        string `dynamodbav:"ID"`
	FirstName string `dynamodbav:"FirstName,omitempty"`
	LastName  string `dynamodbav:"LastName,omitempty"`
	CreatedAt string `dynamodbav:"CreatedAt"`
}

func (d *Dynamo) InsertRecipient(ctx context.Context, r *domain.Recipient) error {
	item := recipientItem{
		PK:        pkRecipient,
		SK:        domain.NormalizeEmail(r.Email),
		ID:        r.ID,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339),
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling recipient: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if isConditionalCheckFailed(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("putting recipient: %w", err)
	}
	return nil
}

// importJobItem is the DynamoDB representation of an ImportJob.
// Chunk history lives in a real list attribute so resumptions can
// append without read-modify-write races.
type importJobItem struct {
	PK                 string                  `dynamodbav:"PK"`
	SK                 string                  `dynamodbav:"SK"`
	FileName           string                  `dynamodbav:"FileName"`
	FileSize           int64                   `dynamodbav:"FileSize"`
	TotalItems         int                     `dynamodbav:"TotalItems"`
	ProcessedItems     int                     `dynamodbav:"ProcessedItems"`
	SuccessfulItems    int                     `dynamodbav:"SuccessfulItems"`
	FailedItems        int                     `dynamodbav:"FailedItems"`
	DuplicateItems     int                     `dynamodbav:"DuplicateItems"`
	ValidationErrors   int                     `dynamodbav:"ValidationErrors"`
	Status             string                  `dynamodbav:"JobStatus"`
	ChunkSize          int                     `dynamodbav:"ChunkSize"`
	CurrentBatchIndex  int                     `dynamodbav:"CurrentBatchIndex"`
	TotalBatches       int                     `dynamodbav:"TotalBatches"`
	ResumeFromItem     int                     `dynamodbav:"ResumeFromItem"`
	ChunkHistory       []importJobChunkEntry   `dynamodbav:"ChunkHistory"`
	MaxProcessingMs    int64                   `dynamodbav:"MaxProcessingMs"`
	AutoResume         bool                    `dynamodbav:"AutoResume"`
	StartedAt          string                  `dynamodbav:"StartedAt"`
	CompletedAt        string                  `dynamodbav:"CompletedAt,omitempty"`
	ProgressPercentage float64                 `dynamodbav:"ProgressPercentage"`
}

type importJobChunkEntry struct {
	ChunkNumber      int    `dynamodbav:"ChunkNumber"`
	ItemsProcessed   int    `dynamodbav:"ItemsProcessed"`
	ProcessingTimeMs int64  `dynamodbav:"ProcessingTimeMs"`
	Timestamp        string `dynamodbav:"Timestamp"`
	Status           string `dynamodbav:"Status"`
}

func toImportJobItem(job *domain.ImportJob) importJobItem {
	item := importJobItem{
		PK:                 pkImportJob,
		SK:                 job.ID,
		FileName:           job.FileName,
		FileSize:           job.FileSize,
		TotalItems:         job.TotalItems,
		ProcessedItems:     job.ProcessedItems,
		SuccessfulItems:    job.SuccessfulItems,
		FailedItems:        job.FailedItems,
		DuplicateItems:     job.DuplicateItems,
		ValidationErrors:   job.ValidationErrors,
		Status:             string(job.Status),
		ChunkSize:          job.ChunkSize,
		CurrentBatchIndex:  job.CurrentBatchIndex,
		TotalBatches:       job.TotalBatches,
		ResumeFromItem:     job.ResumeFromItem,
		ChunkHistory:       make([]importJobChunkEntry, 0, len(job.ChunkHistory)),
		MaxProcessingMs:    job.MaxProcessingTime.Milliseconds(),
		AutoResume:         job.AutoResume,
		StartedAt:          job.StartedAt.UTC().Format(time.RFC3339),
		ProgressPercentage: job.ProgressPercentage,
	}
	for _, c := range job.ChunkHistory {
		item.ChunkHistory = append(item.ChunkHistory, toChunkEntry(c))
	}
	if job.CompletedAt != nil {
		item.CompletedAt = job.CompletedAt.UTC().Format(time.RFC3339)
	}
	return item
}

func toChunkEntry(c domain.ChunkExecution) importJobChunkEntry {
	return importJobChunkEntry{
		ChunkNumber:      c.ChunkNumber,
		ItemsProcessed:   c.ItemsProcessed,
		ProcessingTimeMs: c.ProcessingTimeMs,
		Timestamp:        c.Timestamp.UTC().Format(time.RFC3339),
		Status:           string(c.Status),
	}
}

func (item importJobItem) toDomain() domain.ImportJob {
	status := domain.ImportStatus(item.Status)
	job := domain.ImportJob{
		ID:                 item.SK,
		FileName:           item.FileName,
		FileSize:           item.FileSize,
		TotalItems:         item.TotalItems,
		ProcessedItems:     item.ProcessedItems,
		SuccessfulItems:    item.SuccessfulItems,
		FailedItems:        item.FailedItems,
		DuplicateItems:     item.DuplicateItems,
		ValidationErrors:   item.ValidationErrors,
		Status:             status,
		DisplayStatus:      status.Display(),
		ChunkSize:          item.ChunkSize,
		CurrentBatchIndex:  item.CurrentBatchIndex,
		TotalBatches:       item.TotalBatches,
		ResumeFromItem:     item.ResumeFromItem,
		MaxProcessingTime:  time.Duration(item.MaxProcessingMs) * time.Millisecond,
		AutoResume:         item.AutoResume,
		ProgressPercentage: item.ProgressPercentage,
	}
	for _, c := range item.ChunkHistory {
		entry := domain.ChunkExecution{
			ChunkNumber:      c.ChunkNumber,
			ItemsProcessed:   c.ItemsProcessed,
			ProcessingTimeMs: c.ProcessingTimeMs,
			Status:           domain.ChunkStatus(c.Status),
		}
		if t, err := time.Parse(time.RFC3339, c.Timestamp); err == nil {
			entry.Timestamp = t
		}
		job.ChunkHistory = append(job.ChunkHistory, entry)
	}
	if t, err := time.Parse(time.RFC3339, item.StartedAt); err == nil {
		job.StartedAt = t
	}
	if item.CompletedAt != "" {
		if t, err := time.Parse(time.RFC3339, item.CompletedAt); err == nil {
			job.CompletedAt = &t
		}
	}
	return job
}

func importJobKeyAttrs(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pkImportJob},
		"SK": &types.AttributeValueMemberS{Value: id},
	}
}

func (d *Dynamo) InsertImportJob(ctx context.Context, job *domain.ImportJob) error {
	av, err := attributevalue.MarshalMap(toImportJobItem(job))
	if err != nil {
		return fmt.Errorf("marshaling import job: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if isConditionalCheckFailed(err) {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("putting import job: %w", err)
	}
	return nil
}

func (d *Dynamo) GetImportJob(ctx context.Context, id string) (*domain.ImportJob, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key:       importJobKeyAttrs(id),
	})
	if err != nil {
		return nil, fmt.Errorf("getting import job: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var item importJobItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling import job: %w", err)
	}
	job := item.toDomain()
	return &job, nil
}

func (d *Dynamo) ListImportJobs(ctx context.Context, q ImportJobQuery) ([]domain.ImportJob, int, error) {
	exprVals := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: pkImportJob},
	}
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(d.tableName),
		KeyConditionExpression:    aws.String("PK = :pk"),
		ExpressionAttributeValues: exprVals,
	}
	if q.Status != "" {
		input.FilterExpression = aws.String("JobStatus = :status")
		exprVals[":status"] = &types.AttributeValueMemberS{Value: string(q.Status)}
	}

	var jobs []domain.ImportJob
	for {
		out, err := d.client.Query(ctx, input)
		if err != nil {
			return nil, 0, fmt.Errorf("listing import jobs: %w", err)
		}
		for _, raw := range out.Items {
			var item importJobItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, 0, fmt.Errorf("unmarshaling import job: %w", err)
			}
			jobs = append(jobs, item.toDomain())
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].StartedAt.After(jobs[j].StartedAt)
	})

	total := len(jobs)
	start := q.Offset
	if start > total {
		start = total
	}
	end := total
	if q.Limit > 0 && start+q.Limit < end {
		end = start + q.Limit
	}
	return jobs[start:end], total, nil
}

func (d *Dynamo) UpdateImportJob(ctx context.Context, id string, u ImportJobUpdate) (*domain.ImportJob, error) {
	var sets []string
	exprVals := map[string]types.AttributeValue{}

	setInt := func(attr, ph string, v *int) {
		if v != nil {
			sets = append(sets, fmt.Sprintf("%s = %s", attr, ph))
			exprVals[ph] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", *v)}
		}
	}
	setInt("ProcessedItems", ":processed", u.ProcessedItems)
	setInt("SuccessfulItems", ":successful", u.SuccessfulItems)
	setInt("FailedItems", ":failed", u.FailedItems)
	setInt("DuplicateItems", ":duplicates", u.DuplicateItems)
	setInt("ValidationErrors", ":validation", u.ValidationErrors)
	setInt("CurrentBatchIndex", ":batchIdx", u.CurrentBatchIndex)
	setInt("ResumeFromItem", ":resume", u.ResumeFromItem)

	if u.Status != nil {
		sets = append(sets, "JobStatus = :status")
		exprVals[":status"] = &types.AttributeValueMemberS{Value: string(*u.Status)}
	}
	if u.ProgressPercentage != nil {
		sets = append(sets, "ProgressPercentage = :progress")
		exprVals[":progress"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%g", *u.ProgressPercentage)}
	}
	if u.StartedAt != nil {
		sets = append(sets, "StartedAt = :startedAt")
		exprVals[":startedAt"] = &types.AttributeValueMemberS{Value: u.StartedAt.UTC().Format(time.RFC3339)}
	}
	if u.CompletedAt != nil {
		sets = append(sets, "CompletedAt = :completedAt")
		exprVals[":completedAt"] = &types.AttributeValueMemberS{Value: u.CompletedAt.UTC().Format(time.RFC3339)}
	}
	if u.AppendChunk != nil {
		sets = append(sets, "ChunkHistory = list_append(if_not_exists(ChunkHistory, :emptyList), :chunk)")
		chunkAV, err := attributevalue.MarshalMap(toChunkEntry(*u.AppendChunk))
		if err != nil {
			return nil, fmt.Errorf("marshaling chunk entry: %w", err)
		}
		exprVals[":chunk"] = &types.AttributeValueMemberL{Value: []types.AttributeValue{&types.AttributeValueMemberM{Value: chunkAV}}}
		exprVals[":emptyList"] = &types.AttributeValueMemberL{Value: []types.AttributeValue{}}
	}
	if len(sets) == 0 {
		return d.GetImportJob(ctx, id)
	}

	cond := "attribute_exists(PK)"
	if u.GuardNotTerminal {
		cond += " AND NOT (JobStatus IN (:termCompleted, :termFailed, :termCancelled))"
		exprVals[":termCompleted"] = &types.AttributeValueMemberS{Value: string(domain.ImportCompleted)}
		exprVals[":termFailed"] = &types.AttributeValueMemberS{Value: string(domain.ImportFailed)}
		exprVals[":termCancelled"] = &types.AttributeValueMemberS{Value: string(domain.ImportCancelled)}
	}

	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.tableName),
		Key:                       importJobKeyAttrs(id),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeValues: exprVals,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if isConditionalCheckFailed(err) {
		if u.GuardNotTerminal {
			// The condition trips on a missing item and on a terminal
			// one; a follow-up read tells them apart.
			if _, gerr := d.GetImportJob(ctx, id); gerr == nil {
				return nil, ErrTerminalState
			}
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("updating import job: %w", err)
	}

	var item importJobItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling updated import job: %w", err)
	}
	job := item.toDomain()
	return &job, nil
}

func (d *Dynamo) DeleteImportJob(ctx context.Context, id string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(d.tableName),
		Key:                 importJobKeyAttrs(id),
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if isConditionalCheckFailed(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting import job: %w", err)
	}
	return nil
}

func isConditionalCheckFailed(err error) bool {
	if err == nil {
		return false
	}
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
