package factory

// =============================================================================
// PRESET MARKETPLACES
// =============================================================================

// DemoMarketplaceJSON is a small marketplace across two panchayats: three
// cooks, two delivery staff, one referral agent and a handful of orders.
// Order timestamps are left empty so they take the loader's clock.
const DemoMarketplaceJSON = `{
  "panchayats": [
    {"id": "p-kottayam", "name": "Kottayam"},
    {"id": "p-ettumanoor", "name": "Ettumanoor"}
  ],
  "items": [
    {"id": "biryani", "name": "Chicken Biryani", "base_price": "150",
     "margin": {"type": "percent", "value": "10"}, "service_types": ["cloud_kitchen", "homemade"]},
    {"id": "appam-stew", "name": "Appam with Stew", "base_price": "90",
     "margin": {"type": "fixed", "value": "15"}, "service_types": ["homemade"]},
    {"id": "sadya", "name": "Onam Sadya (per plate)", "base_price": "250",
     "margin": {"type": "percent", "value": "8"}, "service_types": ["indoor_events"]},
    {"id": "porotta", "name": "Kerala Porotta", "base_price": "20", "service_types": ["cloud_kitchen"]}
  ],
  "fulfillers": [
    {"id": "cook-meena", "role": "cook", "name": "Meena's Kitchen", "rating": "4.8",
     "service_types": ["cloud_kitchen", "homemade"], "panchayat_id": "p-kottayam"},
    {"id": "cook-latha", "role": "cook", "name": "Latha Home Foods", "rating": "4.5",
     "service_types": ["homemade"], "panchayat_id": "p-ettumanoor"},
    {"id": "cook-joseph", "role": "cook", "name": "Joseph Caterers", "rating": "4.6",
     "service_types": ["indoor_events", "cloud_kitchen"], "panchayat_id": "p-kottayam"},
    {"id": "rider-ravi", "role": "delivery", "name": "Ravi", "rating": "4.7", "panchayat_id": "p-kottayam"},
    {"id": "rider-anu", "role": "delivery", "name": "Anu", "rating": "4.9", "panchayat_id": "p-ettumanoor"}
  ],
  "overrides": [
    {"fulfiller_id": "cook-meena", "item_id": "biryani", "price": "140"},
    {"fulfiller_id": "cook-latha", "item_id": "appam-stew", "price": "90"}
  ],
  "referrers": [
    {"user_id": "ref-asha", "name": "Asha", "code": "ASHA10"},
    {"user_id": "ref-vinod", "code": "VINOD"}
  ],
  "orders": [
    {"id": "o-1001", "number": "ORD-1001", "customer_id": "cust-anil", "service_type": "cloud_kitchen",
     "panchayat_id": "p-kottayam", "ward_number": 4, "referred_by": "ref-asha",
     "items": [{"item_id": "biryani", "quantity": 2}, {"item_id": "porotta", "quantity": 4}]},
    {"id": "o-1002", "number": "ORD-1002", "customer_id": "cust-bindu", "service_type": "homemade",
     "panchayat_id": "p-ettumanoor", "ward_number": 11,
     "items": [{"item_id": "appam-stew", "quantity": 3}]},
    {"id": "o-1003", "number": "ORD-1003", "customer_id": "cust-chacko", "service_type": "indoor_events",
     "panchayat_id": "p-kottayam", "ward_number": 2, "referred_by": "ref-vinod",
     "items": [{"item_id": "sadya", "quantity": 40}]},
    {"id": "o-1004", "number": "ORD-1004", "customer_id": "cust-deepa", "service_type": "cloud_kitchen",
     "items": [{"item_id": "biryani", "quantity": 1}]}
  ]
}`
