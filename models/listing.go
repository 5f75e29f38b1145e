package models

import (
	"fmt"
	"time"
)

// UnknownDistrict is assigned when a listing has no coordinates or its point
// falls outside every district polygon.
const UnknownDistrict = "unknown"

// PropertyType is the kind of real estate a listing describes.
type PropertyType string

const (
	PropertyApartment PropertyType = "apartment"
	PropertyHouse     PropertyType = "house"
)

// DealType is the kind of transaction a listing offers.
type DealType string

const (
	DealRent DealType = "rent"
	DealSale DealType = "sale"
)

// Target is a single listing page queued for the pipeline. The type tags come
// from the catalog search that discovered it.
type Target struct {
	URL          string
	City         string
	PropertyType PropertyType
	DealType     DealType
}

// ListingRaw holds the unprocessed strings extracted from a listing page.
// Nil pointers mean the field was absent from the markup.
type ListingRaw struct {
	Title        string
	Price        *string
	Area         *string
	Floor        *string
	Rooms        *string
	Address      *string
	Latitude     *string
	Longitude    *string
	SellerType   string
	PropertyType PropertyType
	DealType     DealType
}

// Coordinates is a WGS 84 point.
type Coordinates struct {
	Lat float64
	Lon float64
}

// Address is the normalised postal address of a listing.
type Address struct {
	Full   string
	Street string
}

// Normalized is the typed output of the field normalizer for one ListingRaw.
// Errors lists failures on required fields in field order.
type Normalized struct {
	Price       float64
	Area        float64
	Floor       *int
	TotalFloors *int
	Rooms       *int
	Address     Address
	Coordinates *Coordinates
	Errors      []*NormalizationError
}

// ListingRecord is the validated, typed record handed to the writers.
// It is never modified after the validator builds it.
type ListingRecord struct {
	ID           string
	URL          string
	City         string
	Title        string
	Price        float64
	Area         float64
	Floor        *int
	TotalFloors  *int
	Rooms        *int
	Address      Address
	Coordinates  *Coordinates
	Geohash      string
	District     string
	SellerType   string
	PropertyType PropertyType
	DealType     DealType
	RetrievedAt  time.Time
}

// PartitionKey groups records into output files.
type PartitionKey struct {
	PropertyType PropertyType
	DealType     DealType
	Year         int
	Month        time.Month
}

// KeyFor derives the partition of a record from its type tags and retrieval time.
func KeyFor(r *ListingRecord) PartitionKey {
	ts := r.RetrievedAt.UTC()
	return PartitionKey{
		PropertyType: r.PropertyType,
		DealType:     r.DealType,
		Year:         ts.Year(),
		Month:        ts.Month(),
	}
}

// Dir returns the relative directory of the partition, e.g.
// "deal=sale/property=apartment/month=2025-04".
func (k PartitionKey) Dir() string {
	return fmt.Sprintf("deal=%s/property=%s/month=%04d-%02d", k.DealType, k.PropertyType, k.Year, int(k.Month))
}

func (k PartitionKey) String() string {
	return fmt.Sprintf("%s/%s/%04d-%02d", k.DealType, k.PropertyType, k.Year, int(k.Month))
}

// Stage names a step of the listing pipeline.
type Stage string

const (
	StageFetching    Stage = "Fetching"
	StageExtracting  Stage = "Extracting"
	StageNormalizing Stage = "Normalizing"
	StageGeolocating Stage = "Geolocating"
	StageValidating  Stage = "Validating"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{StageFetching, StageExtracting, StageNormalizing, StageGeolocating, StageValidating}

// RejectionReport records why a target produced no record.
type RejectionReport struct {
	URL          string
	Stage        Stage
	Err          error
	PropertyType PropertyType
	DealType     DealType
}

// RunSummary holds the counters reported at the end of a run.
type RunSummary struct {
	Emitted            int
	Rejected           int
	RejectedByStage    map[Stage]int
	ListingsByDistrict map[string]int
	AveragePrice       float64
	MinPrice           float64
	MaxPrice           float64
	AveragePricePerM2  float64
	MostExpensive      *ListingRecord
}
