package confgen

// Prompt templates for the generation pipeline. All of them demand raw
// JSON; the model still wraps it in markdown fences often enough that
// parsing goes through llm.ExtractJSON.

const businessTypePrompt = `Classify the type of business that sells the following products.
Respond with a single lowercase word or two words joined by an underscore
(for example: garden, electronics, pet_supplies). Respond with only the
classification, no explanation.

Products:
%s`

const searchConfigPrompt = `You are configuring product search for an online store.
Analyze this sample of %d products and respond with raw JSON only (no markdown)
using exactly this shape:

{
  "business_type": "one or two lowercase words",
  "searchable_fields": {
    "title": {"weight": 3.0, "fuzzy": true},
    "description": {"weight": 1.5, "fuzzy": true},
    "tags": {"weight": 2.0, "fuzzy": false},
    "categories": {"weight": 1.8, "fuzzy": false}
  },
  "synonym_groups": ["term1,term2,term3", "term4,term5"],
  "domain_keywords": ["keyword1", "keyword2"],
  "search_settings": {
    "fuzzy_distance": 2,
    "minimum_should_match": "75%%",
    "boost_exact_matches": true
  }
}

Adjust the field weights to this catalog, list synonym groups shoppers in this
domain actually use (each group as one comma-separated string), and list the
domain keywords that characterize this business. Weights must be positive
numbers.

Products:
%s`

const usageScenariosPrompt = `You are building search for a %s business.
For each product below, list 3 to 5 usage scenarios: the problems a customer
is trying to solve or situations they are in when this product is the answer.

Use short snake_case labels like "plant_wilting", "overwatered_plant",
"gift_for_gardener". Respond with raw JSON only (no markdown) mapping each
product id to its scenario list:

{
  "product_id_1": ["scenario_a", "scenario_b", "scenario_c"],
  "product_id_2": ["scenario_d", "scenario_e"]
}

Products:
%s`
