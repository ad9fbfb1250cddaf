package elastic

import (
	"context"
	"strconv"

	elastic "github.com/olivere/elastic/v7"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const ListingIndex = "listings"

const listingMapping = `{
	"mappings": {
		"properties": {
			"title":       {"type": "text"},
			"description": {"type": "text"},
			"status":      {"type": "keyword"},
			"price_cents": {"type": "long"}
		}
	}
}`

// Listing is the searchable part of a marketplace listing.
type Listing struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	PriceCents  int64  `json:"price_cents"`
}

// Index keeps marketplace listings searchable by text.
type Index struct {
	client *elastic.Client
	name   string
}

// Connect creates a client for url. Sniffing and health checks are off so
// a single-node or proxied cluster works.
func Connect(url string) (*Index, error) {
	client, err := elastic.NewClient(elastic.SetURL(url),
		elastic.SetSniff(false),
		elastic.SetHealthcheck(false))
	if err != nil {
		return nil, errors.Wrap(err, "elastic client")
	}
	logrus.WithField("url", url).Info("elastic client ready")
	return &Index{client: client, name: ListingIndex}, nil
}

// EnsureIndex creates the listings index when it does not exist yet.
func (ix *Index) EnsureIndex(ctx context.Context) error {
	exists, err := ix.client.IndexExists(ix.name).Do(ctx)
	if err != nil {
		return errors.Wrap(err, "check index")
	}
	if exists {
		return nil
	}
	_, err = ix.client.CreateIndex(ix.name).BodyString(listingMapping).Do(ctx)
	return errors.Wrap(err, "create index")
}

// IndexListing stores l under its id, replacing any previous version.
func (ix *Index) IndexListing(ctx context.Context, l Listing) error {
	_, err := ix.client.Index().
		Index(ix.name).
		Id(strconv.FormatInt(l.ID, 10)).
		BodyJson(l).
		Do(ctx)
	return errors.Wrapf(err, "index listing %d", l.ID)
}

// Search returns the ids of active listings matching q, best match first.
func (ix *Index) Search(ctx context.Context, q string, limit int) ([]int64, error) {
	query := elastic.NewBoolQuery().
		Must(elastic.NewMultiMatchQuery(q, "title", "description")).
		Filter(elastic.NewTermQuery("status", "active"))
	res, err := ix.client.Search().
		Index(ix.name).
		Query(query).
		Size(limit).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "search listings")
	}
	if res.Hits == nil {
		return []int64{}, nil
	}
	ids := make([]int64, 0, len(res.Hits.Hits))
	for _, hit := range res.Hits.Hits {
		id, err := strconv.ParseInt(hit.Id, 10, 64)
		if err != nil {
			logrus.WithField("id", hit.Id).Warn("skipping listing hit with foreign id")
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
